package patching

import (
	_ "embed"
)

// Assets bundled into the agent binary. The debug certificate signs the
// mutated APK; libmain is the native loader injected into it; libsl2 is the
// Scotland2 modloader installed to shared storage.
var (
	//go:embed assets/debug_cert.pem
	debugCertPEM []byte

	//go:embed assets/libmain.so
	libMain []byte

	//go:embed assets/libsl2.so
	modloader []byte
)

const (
	modloaderFileName = "libsl2.so"
	// modTagPath is the container entry holding the provenance tag.
	modTagPath = "modded.json"

	libMainName  = "libmain.so"
	libUnityName = "libunity.so"

	tempApkName = "mbf-tmp.apk"
)
