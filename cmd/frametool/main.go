package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go-chat-session/internal/protocol"
)

func main() {
	mode := flag.String("mode", "encode", "Mode: 'encode' (JSON envelope -> binary frame) or 'decode' (binary frame -> JSON envelope)")
	format := flag.String("format", "hex", "Binary frame format: 'hex' or 'base64'")
	flag.Parse()

	inputData, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
		os.Exit(1)
	}
	input := strings.TrimSpace(string(inputData))

	var out string
	switch *mode {
	case "encode":
		out, err = encodeFrame(input, *format)
	case "decode":
		out, err = decodeFrame(input, *format)
	default:
		err = fmt.Errorf("invalid mode: %s. Use 'encode' or 'decode'", *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

// encodeFrame 把 {"event","data"} JSON 转成二进制帧 (structpb) 的文本表示
func encodeFrame(jsonInput string, format string) (string, error) {
	env, err := protocol.JSONCodec{}.Decode([]byte(jsonInput))
	if err != nil {
		return "", fmt.Errorf("error parsing JSON envelope: %w\nInput: %s", err, jsonInput)
	}

	binaryData, err := protocol.ProtoCodec{}.Encode(env)
	if err != nil {
		return "", fmt.Errorf("error marshaling to Protobuf: %w", err)
	}

	switch format {
	case "hex":
		return hex.EncodeToString(binaryData), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(binaryData), nil
	default:
		return "", fmt.Errorf("invalid output format: %s. Use 'hex' or 'base64'", format)
	}
}

// decodeFrame 把二进制帧还原成缩进的 JSON envelope
func decodeFrame(input string, format string) (string, error) {
	var binaryData []byte
	var err error

	switch format {
	case "hex":
		binaryData, err = hex.DecodeString(input)
	case "base64":
		binaryData, err = base64.StdEncoding.DecodeString(input)
	default:
		return "", fmt.Errorf("invalid input format: %s. Use 'hex' or 'base64'", format)
	}
	if err != nil {
		return "", fmt.Errorf("error decoding input string (%s): %w", format, err)
	}

	env, err := protocol.ProtoCodec{}.Decode(binaryData)
	if err != nil {
		return "", fmt.Errorf("error unmarshaling Protobuf: %w", err)
	}

	jsonOutput, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling to JSON: %w", err)
	}
	return string(jsonOutput), nil
}
