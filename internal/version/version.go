package version

// Version is the running build, set at link time with
// -ldflags "-X github.com/amaumene/grainlink/internal/version.Version=v1.2.3"
var Version = "dev"
