package shared

// Version is overridden at link time with -X.
var Version = "0.3.0"
