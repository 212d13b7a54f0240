//go:build !unix

package process

import "os/exec"

// configureProcessGroup keeps exec's default behavior of killing only the
// direct child on cancellation.
func configureProcessGroup(cmd *exec.Cmd) {}
