package runtime

import _ "embed"

//go:embed harness/driver.py
var driverSource string

// DriverSource returns the Python driver every backend ships into its worker.
func DriverSource() string {
	return driverSource
}

// DriverCommand returns the interpreter invocation for a driver stored at path.
// Isolated mode ignores PYTHON* variables and the user site directory.
func DriverCommand(python, path string) []string {
	if python == "" {
		python = "python3"
	}
	return []string{python, "-I", "-B", path}
}

// InlineDriverCommand returns an invocation that passes the driver as -c source.
func InlineDriverCommand(python string) []string {
	if python == "" {
		python = "python3"
	}
	return []string{python, "-I", "-B", "-c", driverSource}
}
