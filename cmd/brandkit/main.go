// The main package for the brandkit executable.
package main

import "github.com/JakeFAU/brandkit-crawler/cmd"

func main() {
	cmd.Execute()
}
