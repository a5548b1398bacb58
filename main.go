// The main package for the harvester executable.
package main

import (
	_ "time/tzdata"

	"github.com/JakeFAU/price-harvester/cmd"
)

func main() {
	cmd.Execute()
}
