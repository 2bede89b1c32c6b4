package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/agentcfg"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/apk"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/externalres"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/installer"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/patching"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/logutils"
)

func main() {
	var (
		app = kingpin.New("mbf-agent", "On-device agent that mods an installed app to load a custom mod runtime")

		configPath = app.Flag("config", "path to a YAML config overriding the built-in defaults").String()

		// commands
		patch        = app.Command("patch", "Mod the currently installed version of the app")
		apkPatch     = patch.Flag("apk", "path to the installed APK").Required().ExistingFile()
		versionPatch = patch.Flag("app-version", "installed version of the app").Required().String()

		downgrade        = app.Command("downgrade", "Downgrade the app to the latest moddable version, then mod it")
		apkDowngrade     = downgrade.Flag("apk", "path to the installed APK").Required().ExistingFile()
		versionDowngrade = downgrade.Flag("app-version", "installed version of the app").Required().String()

		status    = app.Command("status", "Report whether, and by what, the app has been modded")
		apkStatus = status.Flag("apk", "path to the installed APK").Required().ExistingFile()

		installModloader = app.Command("install-modloader", "Copy the bundled modloader to its shared storage location")

		// Logging
		logLevel  = app.Flag("log-level", "Log-Level, must be one of [DEBUG, INFO, WARN, ERROR]").Default("INFO").Envar("LOG_LEVEL").Enum("DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error")
		logFormat = app.Flag("log-format", "Log-Format, must be one of [TEXT, JSON]").Default("TEXT").Envar("LOG_FORMAT").Enum("TEXT", "JSON")
	)
	app.HelpFlag.Short('h')

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	setLogLevel(*logLevel)
	setLogFormat(*logFormat)

	cfg, err := agentcfg.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	agent := patching.NewAgent(cfg, externalres.NewClient(cfg.DiffRepoURL), installer.New(cfg.APKID))

	switch cmd {
	case patch.FullCommand():
		appInfo := patching.AppInfo{Path: *apkPatch, Version: *versionPatch}
		if err := agent.ModCurrentAPK(appInfo); err != nil {
			log.Fatal(err)
		}
		log.Info("App patched and reinstalled")
	case downgrade.FullCommand():
		appInfo := patching.AppInfo{Path: *apkDowngrade, Version: *versionDowngrade}
		if err := agent.DowngradeAndModAPK(appInfo); err != nil {
			log.Fatal(err)
		}
		log.Info("App downgraded, patched and reinstalled")
	case status.FullCommand():
		reportStatus(*apkStatus)
	case installModloader.FullCommand():
		if err := agent.InstallModloader(); err != nil {
			log.Fatal(err)
		}
		log.Info("Modloader installed")
	}
}

func reportStatus(apkPath string) {
	z, err := apk.Open(apkPath)
	if err != nil {
		log.Fatal(err)
	}
	loader, installed, err := patching.GetModloaderInstalled(z)
	if err != nil {
		log.Fatal(err)
	}
	if !installed {
		log.Info("App is not modded")
		return
	}
	log.Infof("App is modded with loader: %s", loader)
}

func setLogFormat(logFormat string) {
	switch logFormat {
	case "JSON":
		log.SetFormatter(logutils.UTCFormatter{Formatter: &log.JSONFormatter{}})
	default:
		log.SetFormatter(logutils.UTCFormatter{Formatter: &log.TextFormatter{FullTimestamp: true}})
	}
}

func setLogLevel(logLevel string) {
	parsed, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %s", logLevel, err)
	}
	log.SetLevel(parsed)
}
