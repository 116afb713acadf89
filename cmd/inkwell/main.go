// Command inkwell keeps compiled ink stories in step with their sources.
package main

import "github.com/papapumpkin/inkwell/cmd"

func main() {
	cmd.Execute()
}
