package cmd

import (
	"TextTune/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动TextTune服务器",
	Long:  `启动TextTune文本生成音乐系统的HTTP服务器，提供API服务和Web界面`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
