package main

import "github.com/denysvitali/deployment-downloader/cmd"

func main() {
	cmd.Execute()
}
