package env

import (
	"io"
	"os"
)

var stdout io.Writer = os.Stdout
