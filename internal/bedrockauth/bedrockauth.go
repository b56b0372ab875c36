// Package bedrockauth implements the AuthMode=bedrock_sigv4 provider
// transport: instead of a plain HTTP POST with a bearer header, the
// request is signed with AWS SigV4 and sent through bedrock-runtime's
// InvokeModel / InvokeModelWithResponseStream APIs. The gateway's own
// request/response shape stays Anthropic Messages-compatible — this
// package only swaps the wire transport underneath it, grounded in the
// teacher's InvokeModel-based Bedrock provider.
package bedrockauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// Credentials is the AWS access key / secret key / region triple packed
// into Provider.APIKey for AuthMode=bedrock_sigv4 (colon-separated:
// "accessKeyID:secretAccessKey:region").
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// ParseCredentials splits a Provider.APIKey value into its triple. It
// returns an error rather than silently defaulting the region, since a
// wrong region silently targets the wrong Bedrock endpoint.
func ParseCredentials(apiKey string) (Credentials, error) {
	parts := strings.SplitN(apiKey, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Credentials{}, fmt.Errorf("bedrockauth: expected \"accessKeyID:secretAccessKey:region\", got malformed credential")
	}
	return Credentials{AccessKeyID: parts[0], SecretAccessKey: parts[1], Region: parts[2]}, nil
}

// NewClient builds a bedrock-runtime client signed with the given static
// credentials. A fresh client is built per provider rather than shared,
// since each provider may carry a distinct AWS account/region.
func NewClient(ctx context.Context, creds Credentials) (*bedrockruntime.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(creds.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("bedrockauth: load AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

// anthropicBody is the subset of the Claude Messages wire format Bedrock's
// InvokeModel expects; it differs from the public Anthropic API only by
// requiring an explicit anthropic_version and omitting "model" (the model
// id is a separate InvokeModel parameter).
type anthropicBody struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        json.RawMessage `json:"max_tokens,omitempty"`
	Messages         json.RawMessage `json:"messages"`
	System           json.RawMessage `json:"system,omitempty"`
	Temperature      json.RawMessage `json:"temperature,omitempty"`
	TopP             json.RawMessage `json:"top_p,omitempty"`
	StopSequences    json.RawMessage `json:"stop_sequences,omitempty"`
	Thinking         json.RawMessage `json:"thinking,omitempty"`
}

const anthropicVersion = "bedrock-2023-05-31"

// toBedrockBody rewrites a Claude Messages request body into the shape
// InvokeModel expects, lifting fields straight through as raw JSON so it
// never needs to understand every field the CLI might send.
func toBedrockBody(claudeBody []byte) ([]byte, error) {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(claudeBody, &parsed); err != nil {
		return nil, fmt.Errorf("bedrockauth: parse request body: %w", err)
	}
	out := anthropicBody{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        parsed["max_tokens"],
		Messages:         parsed["messages"],
		System:           parsed["system"],
		Temperature:      parsed["temperature"],
		TopP:             parsed["top_p"],
		StopSequences:    parsed["stop_sequences"],
		Thinking:         parsed["thinking"],
	}
	return json.Marshal(out)
}

func modelIDFromRequest(claudeBody []byte, effectiveModel string) string {
	if effectiveModel != "" {
		return effectiveModel
	}
	var partial struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(claudeBody, &partial)
	return partial.Model
}

// InvokeBuffered performs a non-streaming call and returns the upstream
// response as a complete Claude Messages-shaped JSON body, exactly as a
// direct Anthropic API POST would have returned it, so the rest of the
// pipeline (Response Fixer, Cost Resolver) never needs to know the
// request took the Bedrock transport.
func InvokeBuffered(ctx context.Context, client *bedrockruntime.Client, claudeBody []byte, effectiveModel string) ([]byte, int, error) {
	bedrockBody, err := toBedrockBody(claudeBody)
	if err != nil {
		return nil, 0, err
	}
	modelID := modelIDFromRequest(claudeBody, effectiveModel)

	output, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        bedrockBody,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("bedrockauth: invoke model: %w", err)
	}
	return output.Body, 200, nil
}

// InvokeStreaming performs a streaming call and synthesizes the response
// as Anthropic-style SSE frames (message_start, content_block_delta,
// message_delta, message_stop) written to the returned reader, so the
// existing SSE Tee can parse it exactly as it would a direct Anthropic
// stream. The caller must Close the returned reader once drained.
func InvokeStreaming(ctx context.Context, client *bedrockruntime.Client, claudeBody []byte, effectiveModel string) (io.ReadCloser, error) {
	bedrockBody, err := toBedrockBody(claudeBody)
	if err != nil {
		return nil, err
	}
	modelID := modelIDFromRequest(claudeBody, effectiveModel)

	output, err := client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        bedrockBody,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrockauth: invoke model with response stream: %w", err)
	}

	pr, pw := io.Pipe()
	go pumpBedrockEvents(output, pw)
	return pr, nil
}

func pumpBedrockEvents(output *bedrockruntime.InvokeModelWithResponseStreamOutput, pw *io.PipeWriter) {
	stream := output.GetStream()
	defer stream.Close()

	writeFrame(pw, "message_start", `{"type":"message_start","message":{"type":"message","role":"assistant"}}`)
	writeFrame(pw, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)

	for event := range stream.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		// Bedrock's chunk bytes are already Claude event-shaped JSON
		// objects (type, index, delta, usage, ...); forward the payload
		// wrapped in an SSE frame using that same "type" as the event
		// name, so the accumulator's existing dispatch handles it
		// without a second parser.
		var tagged struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(chunk.Value.Bytes, &tagged); err != nil || tagged.Type == "" {
			continue
		}
		writeFrame(pw, tagged.Type, string(chunk.Value.Bytes))
	}

	if err := stream.Err(); err != nil {
		pw.CloseWithError(fmt.Errorf("bedrockauth: stream error: %w", err))
		return
	}
	pw.Close()
}

func writeFrame(pw *io.PipeWriter, event, data string) {
	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(event)
	sb.WriteString("\ndata: ")
	sb.WriteString(data)
	sb.WriteString("\n\n")
	_, _ = pw.Write([]byte(sb.String()))
}
