package store

import (
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// resignTransport signs requests again without Accept-Encoding. Some S3-compatible
// gateways rewrite that header in transit, which breaks the original signature.
type resignTransport struct {
	next   http.RoundTripper
	signer *v4.Signer
	cfg    aws.Config
}

func newResignTransport(cfg aws.Config) *resignTransport {
	return &resignTransport{
		next:   http.DefaultTransport,
		signer: v4.NewSigner(),
		cfg:    cfg,
	}
}

func (rt *resignTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	encoding := req.Header.Get("Accept-Encoding")
	req.Header.Del("Accept-Encoding")

	signedAt, err := time.Parse("20060102T150405Z", req.Header.Get("X-Amz-Date"))
	if err != nil {
		signedAt = time.Now().UTC()
	}
	creds, err := rt.cfg.Credentials.Retrieve(req.Context())
	if err != nil {
		return nil, err
	}
	payloadHash := req.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = v4.GetPayloadHash(req.Context())
	}
	if err = rt.signer.SignHTTP(req.Context(), creds, req, payloadHash, "s3", rt.cfg.Region, signedAt); err != nil {
		return nil, err
	}
	if encoding != "" {
		req.Header.Set("Accept-Encoding", encoding)
	}
	return rt.next.RoundTrip(req)
}
