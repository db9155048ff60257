// Package ocr は外部OCRツールを使ってバッチPDFにテキストレイヤーを付与します。
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner は外部コマンドを実行し、標準出力と標準エラーをまとめて返します。
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner は os/exec を使う Runner です。
type ExecRunner struct{}

// Run はコマンドを実行します。終了コードが0以外の場合は出力を含むエラーを返します。
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s failed: %w: %s", name, err, tail(out.String(), 512))
	}
	return out.Bytes(), nil
}

// tail はツール出力の末尾 n バイトを返します。
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
