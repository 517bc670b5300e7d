// Command server runs the CampusVinculum realtime chat, presence and video
// signaling service.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
