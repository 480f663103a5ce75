package speech

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// CompressPayload 按 method 压缩帧 payload。
func CompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	if err := checkCompression(method); err != nil {
		return nil, err
	}
	if method == NoCompression {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressPayload 还原服务端帧 payload，空 payload 原样返回。
func DecompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	if err := checkCompression(method); err != nil {
		return nil, err
	}
	if method == NoCompression || len(data) == 0 {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip payload: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gunzip payload: %w", err)
	}
	return out, nil
}

func checkCompression(method CompressionMethod) error {
	switch method {
	case NoCompression, GzipCompression:
		return nil
	default:
		return fmt.Errorf("unsupported compression method %d", method)
	}
}
