// Command kernelsim runs a simulated kernel on a generated workload.
package main

import "github.com/sarchlab/kernelsim/cmd/kernelsim/cmd"

func main() {
	cmd.Execute()
}
