package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coralplay",
	Short: "CoralPlay 音乐播放守护进程",
	Long: `CoralPlay 是一个本机音乐播放守护进程：
维护播放队列与曲目间过渡，经弹性流客户端访问远程目录服务，
并通过 REST + WebSocket 提供控制接口。`,
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
