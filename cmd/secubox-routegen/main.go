package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/secubox/secubox-waf/pkg/forward"
)

func main() {
	var (
		output string
		input  string
	)
	flag.StringVar(&output, "o", "", "write routes JSON to this file instead of stdout")
	flag.StringVar(&input, "input", "", "read 'uci show haproxy' output from this file ('-' for stdin) instead of running uci")
	flag.Parse()

	src, err := openInput(input)
	if err != nil {
		log.Fatalf("读取 HAProxy 配置失败: %v", err)
	}

	var buf bytes.Buffer
	n, err := generate(src, &buf)
	if err != nil {
		log.Fatalf("生成路由失败: %v", err)
	}

	if output == "" {
		os.Stdout.Write(buf.Bytes())
		return
	}
	if err := writeFileAtomic(output, buf.Bytes()); err != nil {
		log.Fatalf("写入路由文件失败: %v", err)
	}
	log.Printf("Generated %d routes -> %s", n, output)
}

func openInput(input string) (io.Reader, error) {
	switch input {
	case "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "uci", "show", "haproxy").Output()
		if err != nil {
			return nil, fmt.Errorf("uci show haproxy: %w", err)
		}
		return bytes.NewReader(out), nil
	case "-":
		return os.Stdin, nil
	default:
		data, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}

// generate 解析 uci 输出并写出路由 JSON, 返回路由条数
func generate(r io.Reader, w io.Writer) (int, error) {
	routes, err := forward.ParseUCIRoutes(r)
	if err != nil {
		return 0, err
	}

	data, err := json.MarshalIndent(routes, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("序列化路由失败: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return 0, err
	}
	return len(routes), nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
