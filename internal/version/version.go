// ABOUTME: Version information for micrelay binaries
// ABOUTME: Reported in device_info, the server banner and the TUIs
package version

// Version is overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.1.0"

const (
	// Product is the software name
	Product = "micrelay"

	// Manufacturer identifies the project
	Manufacturer = "Sendspin"
)

// String returns "product version"
func String() string {
	return Product + " " + Version
}
