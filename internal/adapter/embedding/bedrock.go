package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"agent-market/internal/domain"
)

// bedrockInvokeAPI is the subset of the Bedrock Runtime client used for
// embeddings, so tests can substitute a fake.
type bedrockInvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// TitanOption configures the Titan embedding provider.
type TitanOption func(*TitanProvider)

// WithTitanModel sets the Bedrock model ID.
func WithTitanModel(model string) TitanOption {
	return func(p *TitanProvider) { p.model = model }
}

// WithTitanDimensions sets the expected vector length. Titan v2 models also
// receive it as the requested output size.
func WithTitanDimensions(dims int) TitanOption {
	return func(p *TitanProvider) { p.dims = dims }
}

// TitanProvider implements domain.EmbeddingProvider with Amazon Titan text
// embedding models on Bedrock. Titan embeds one text per request.
type TitanProvider struct {
	client bedrockInvokeAPI
	model  string
	dims   int
	logger *slog.Logger
}

// NewTitanProvider creates a Titan provider using the default AWS credential chain.
func NewTitanProvider(ctx context.Context, region string, logger *slog.Logger, opts ...TitanOption) (*TitanProvider, error) {
	var cfgOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return newTitanProviderWithClient(bedrockruntime.NewFromConfig(awsCfg), logger, opts...), nil
}

func newTitanProviderWithClient(client bedrockInvokeAPI, logger *slog.Logger, opts ...TitanOption) *TitanProvider {
	p := &TitanProvider{
		client: client,
		model:  "amazon.titan-embed-text-v1",
		dims:   1536,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  *bool  `json:"normalize,omitempty"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed implements domain.EmbeddingProvider.
func (p *TitanProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (p *TitanProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	req := titanRequest{InputText: text}
	if p.isV2() {
		// v2 accepts an output size; v1 is fixed at 1536 and rejects the field.
		// Normalization stays off so scores remain raw inner products.
		off := false
		req.Dimensions = p.dims
		req.Normalize = &off
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	var tr titanResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(tr.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", domain.ErrEmbeddingFailed)
	}
	p.logger.Debug("titan embedding", "model", p.model, "tokens", tr.InputTextTokenCount)
	return tr.Embedding, nil
}

func (p *TitanProvider) isV2() bool {
	return p.model == "amazon.titan-embed-text-v2:0"
}

// Dimensions implements domain.EmbeddingProvider.
func (p *TitanProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *TitanProvider) Name() string { return "bedrock" }

// mapBedrockError converts Bedrock API errors to domain errors.
func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %w: %s", domain.ErrEmbeddingFailed, domain.ErrRateLimit, apiErr.ErrorMessage())
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("%w: %w: %s", domain.ErrEmbeddingFailed, domain.ErrAuthInvalid, apiErr.ErrorMessage())
		case "ModelNotReadyException", "ServiceUnavailableException", "ModelTimeoutException":
			return fmt.Errorf("%w: %w: %s", domain.ErrEmbeddingFailed, domain.ErrProviderUnavail, apiErr.ErrorMessage())
		}
	}
	return domain.Classify(domain.ErrEmbeddingFailed, err)
}

var _ domain.EmbeddingProvider = (*TitanProvider)(nil)
