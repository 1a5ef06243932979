package cmd

import (
	"context"
	"fmt"
	"log"

	"TextTune/core/audio"
	"TextTune/core/generation"

	"github.com/spf13/cobra"
)

var (
	synthPrompt   string
	synthDuration float64
	synthOut      string
)

// synthCmd renders one prompt with the offline synthesizer. Useful for
// checking the audio pipeline without any Hugging Face credentials.
var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "离线渲染测试",
	Long:  `使用本地合成器渲染一段提示词，验证音频管线无需外部推理服务即可工作。`,
	Run: func(cmd *cobra.Command, args []string) {
		backend := audio.NewSynthBackend()
		expanded := generation.ExpandPrompt(synthPrompt)
		fmt.Printf("渲染提示词: %s\n", expanded)

		result, err := backend.Render(context.Background(), audio.RenderRequest{
			Prompt:         expanded,
			Duration:       synthDuration,
			OutDir:         synthOut,
			FilenamePrefix: "synth-check",
		})
		if err != nil {
			log.Fatalf("渲染失败: %v", err)
		}
		fmt.Printf("渲染完成: %s (%s)\n", result.FilePath, result.ContentType)
	},
}

func init() {
	synthCmd.Flags().StringVarP(&synthPrompt, "prompt", "p", "warm ambient pads", "提示词")
	synthCmd.Flags().Float64VarP(&synthDuration, "duration", "d", 5, "时长（秒）")
	synthCmd.Flags().StringVarP(&synthOut, "out", "o", ".", "输出目录")
	rootCmd.AddCommand(synthCmd)
}
