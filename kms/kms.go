// Package kms builds AWS KMS clients for code inside an enclave. The
// enclave has no network route to AWS, so the client's HTTP transport rides
// the host's vsock proxy.
package kms

import (
	"context"

	"github.com/Amnesic-Systems/pontifex/internal/errs"
	"github.com/Amnesic-Systems/pontifex/vsockhttp"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
)

// Credentials to use for KMS requests. The enclave has no ambient AWS
// identity, so the host must hand these in explicitly, e.g. from the parent
// instance's role.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewClient returns a KMS client whose requests are tunneled through the
// host's vsock proxy on the given port.
func NewClient(
	ctx context.Context,
	region string,
	creds Credentials,
	proxyPort uint32,
) (_ *awskms.Client, err error) {
	defer errs.Wrap(&err, "failed to build KMS client")

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		)),
		config.WithHTTPClient(vsockhttp.NewClient(proxyPort)),
	)
	if err != nil {
		return nil, err
	}
	return awskms.NewFromConfig(cfg), nil
}
