// Package boot builds the application from configuration. The web server,
// the Lambda and the CLI all compose their runtime here so that the three
// entry points stay thin.
package boot

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// awsLoader loads the default AWS config on first use. Deployments without
// any AWS-backed feature never touch the credential chain.
type awsLoader struct {
	once sync.Once
	cfg  aws.Config
	err  error
}

func (a *awsLoader) config(ctx context.Context) (aws.Config, error) {
	a.once.Do(func() {
		a.cfg, a.err = awsconfig.LoadDefaultConfig(ctx)
		if a.err == nil {
			log.Debug().Str("region", a.cfg.Region).Msg("AWS config loaded")
		}
	})
	if a.err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", a.err)
	}
	return a.cfg, nil
}

// LoadSecrets reads every parameter under prefix (recursively, decrypted)
// and maps its base name to a config key: "/penguin/prod/openai-api-key"
// becomes "openai_api_key".
func LoadSecrets(ctx context.Context, client ssm.GetParametersByPathAPIClient, prefix string) (map[string]string, error) {
	start := time.Now()
	secrets := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(client, &ssm.GetParametersByPathInput{
		Path:           aws.String(prefix),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("read SSM parameters under %s: %w", prefix, err)
		}
		for _, p := range page.Parameters {
			name := aws.ToString(p.Name)
			key := strings.ToLower(strings.ReplaceAll(path.Base(name), "-", "_"))
			if key == "" || key == "." || key == "/" {
				continue
			}
			secrets[key] = aws.ToString(p.Value)
		}
	}
	log.Debug().Str("prefix", prefix).Int("count", len(secrets)).Dur("elapsed", time.Since(start)).Msg("Secrets loaded from SSM")
	return secrets, nil
}
