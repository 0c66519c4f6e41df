package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "newsflow"}

	root.AddCommand(serveCMD(), runCMD(), migrateCMD(), extendCMD(), indexerCMD(), eventsCMD())
	_ = root.Execute()
}
