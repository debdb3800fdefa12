package context

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

//go:embed schema/request.schema.json
var requestSchemaJSON []byte

var (
	requestSchemaOnce sync.Once
	requestSchema     *jsonschema.Schema
	requestSchemaErr  error
)

func loadRequestSchema() (*jsonschema.Schema, error) {
	requestSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		requestSchema, requestSchemaErr = compiler.Compile(requestSchemaJSON)
		if requestSchemaErr != nil {
			requestSchemaErr = fmt.Errorf("compile request schema: %w", requestSchemaErr)
		}
	})
	return requestSchema, requestSchemaErr
}

// RequestSchema 返回请求的 JSON Schema 原文。
func RequestSchema() []byte {
	return append([]byte(nil), requestSchemaJSON...)
}

// DecodeRequest 解析请求 JSON：允许注释和尾随逗号，按 Schema 校验后
// 严格解码为 Request，未知字段视为错误。
func DecodeRequest(data []byte) (*Request, error) {
	stripped := jsonc.ToJSON(data)

	schema, err := loadRequestSchema()
	if err != nil {
		return nil, err
	}
	result := schema.ValidateJSON(stripped)
	if !result.IsValid() {
		return nil, fmt.Errorf("%w: schema validation failed: %v", ErrInvalidRequest, result.Errors)
	}

	var req Request
	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Digest 返回请求的确定性摘要：RFC 8785 规范化 JSON 的 BLAKE3 十六进制值。
// 协作方函数不参与摘要。
func (r *Request) Digest() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
