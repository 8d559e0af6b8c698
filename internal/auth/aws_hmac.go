package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	AWSv4Algorithm = "AWS4-HMAC-SHA256"
	AWSv4Prefix    = AWSv4Algorithm + " "

	UnsignedPayload = "UNSIGNED-PAYLOAD"

	amzDateFormat = "20060102T150405Z"

	// Query parameters of a presigned request.
	AmzAlgorithmParam     = "X-Amz-Algorithm"
	AmzCredentialParam    = "X-Amz-Credential"
	AmzDateParam          = "X-Amz-Date"
	AmzExpiresParam       = "X-Amz-Expires"
	AmzSignedHeadersParam = "X-Amz-SignedHeaders"
	AmzSignatureParam     = "X-Amz-Signature"

	// MaxPresignExpiry is the longest validity S3 accepts for a presigned URL.
	MaxPresignExpiry = 7 * 24 * time.Hour
)

// AwsHmacAuthEngine verifies AWS Signature Version 4 requests, signed either
// in the Authorization header or in the query string of a presigned URL.
type AwsHmacAuthEngine struct {
	creds Credentials
}

func NewAwsHmacAuthEngine(creds Credentials) *AwsHmacAuthEngine {
	return &AwsHmacAuthEngine{creds: creds}
}

func awsURLEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		if c == '/' && !encodeSlash {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

// canonicalQueryString sorts and encodes the query parameters, leaving out
// the ones named in skip.
func canonicalQueryString(values url.Values, skip ...string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !slices.Contains(skip, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := slices.Clone(values[k])
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, awsURLEncode(k, true)+"="+awsURLEncode(v, true))
		}
	}

	return strings.Join(parts, "&")
}

func canonicalHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

func headerValue(r *http.Request, name string) string {
	switch name {
	case "host":
		if r.Host != "" {
			return r.Host
		}
		return r.URL.Host
	case "content-length":
		if v := r.Header.Get(name); v != "" {
			return v
		}
		if r.ContentLength >= 0 {
			return strconv.FormatInt(r.ContentLength, 10)
		}
		return ""
	}
	return strings.Join(r.Header.Values(name), ",")
}

// BuildCanonicalRequest assembles the SigV4 canonical request. The path is
// the decoded request path encoded once, which is how S3 clients sign it. A
// presigned request's X-Amz-Signature is not part of what was signed.
func BuildCanonicalRequest(r *http.Request, signedHeaderNames []string, payloadHash string) string {
	canonicalURI := awsURLEncode(r.URL.Path, false)
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	lowerNames := make([]string, 0, len(signedHeaderNames))
	for _, h := range signedHeaderNames {
		if name := strings.ToLower(strings.TrimSpace(h)); name != "" {
			lowerNames = append(lowerNames, name)
		}
	}

	var hdrBuilder strings.Builder
	for _, name := range lowerNames {
		hdrBuilder.WriteString(name)
		hdrBuilder.WriteString(":")
		hdrBuilder.WriteString(canonicalHeaderValue(headerValue(r, name)))
		hdrBuilder.WriteString("\n")
	}

	return strings.Join([]string{
		r.Method,
		canonicalURI,
		canonicalQueryString(r.URL.Query(), AmzSignatureParam),
		hdrBuilder.String(),
		strings.Join(lowerNames, ";"),
		payloadHash,
	}, "\n")
}

func HmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// SigningKey derives the SigV4 signing key for one credential scope.
func SigningKey(secret string, dateStamp string, region string, service string) []byte {
	kDate := HmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := HmacSHA256(kDate, region)
	kService := HmacSHA256(kRegion, service)
	return HmacSHA256(kService, "aws4_request")
}

func (e *AwsHmacAuthEngine) Applies(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), AWSv4Algorithm) || isPresigned(r)
}

func isPresigned(r *http.Request) bool {
	return r.URL.Query().Get(AmzAlgorithmParam) == AWSv4Algorithm
}

// sigV4Params is the signature material of one request, from either the
// Authorization header or the query string.
type sigV4Params struct {
	credential    string
	signedHeaders string
	signature     string
	amzDate       string
}

func headerParams(r *http.Request) (sigV4Params, error) {
	params := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), AWSv4Algorithm))
	kv := make(map[string]string, 3)
	for p := range strings.SplitSeq(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || k == "" {
			continue
		}
		kv[k] = strings.TrimSpace(v)
	}

	credStr, okCred := kv["Credential"]
	signedHeadersStr, okSigned := kv["SignedHeaders"]
	signatureHex, okSig := kv["Signature"]
	amzDate := r.Header.Get("X-Amz-Date")
	if !okCred || !okSigned || !okSig || amzDate == "" {
		return sigV4Params{}, ErrMalformedAuthorization
	}

	return sigV4Params{
		credential:    credStr,
		signedHeaders: signedHeadersStr,
		signature:     signatureHex,
		amzDate:       amzDate,
	}, nil
}

// queryParams reads a presigned request. Expired or not yet valid URLs are
// rejected here, before any signature work.
func queryParams(r *http.Request, now time.Time) (sigV4Params, error) {
	q := r.URL.Query()
	params := sigV4Params{
		credential:    q.Get(AmzCredentialParam),
		signedHeaders: q.Get(AmzSignedHeadersParam),
		signature:     q.Get(AmzSignatureParam),
		amzDate:       q.Get(AmzDateParam),
	}
	if params.credential == "" || params.signedHeaders == "" || params.signature == "" || params.amzDate == "" {
		return sigV4Params{}, ErrMalformedAuthorization
	}

	signedAt, err := time.Parse(amzDateFormat, params.amzDate)
	if err != nil {
		return sigV4Params{}, ErrMalformedAuthorization
	}
	seconds, err := strconv.ParseInt(q.Get(AmzExpiresParam), 10, 64)
	if err != nil || seconds < 0 || time.Duration(seconds)*time.Second > MaxPresignExpiry {
		return sigV4Params{}, ErrMalformedAuthorization
	}
	if now.Before(signedAt.Add(-15*time.Minute)) || now.After(signedAt.Add(time.Duration(seconds)*time.Second)) {
		return sigV4Params{}, ErrRequestExpired
	}
	return params, nil
}

// AuthenticateRequest recomputes the request signature with the configured
// secret and compares it with the one the client sent.
func (e *AwsHmacAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	var (
		params sigV4Params
		err    error
	)
	if strings.HasPrefix(r.Header.Get("Authorization"), AWSv4Algorithm) {
		params, err = headerParams(r)
	} else {
		params, err = queryParams(r, time.Now().UTC())
	}

	credParts := strings.Split(params.credential, "/")
	if err == nil && (len(credParts) != 5 || credParts[4] != "aws4_request") {
		err = ErrMalformedAuthorization
	}
	if err != nil {
		// An unknown access key is reported as such even when the rest of
		// the material is unusable.
		if len(credParts) > 0 && credParts[0] != "" && !equal(credParts[0], e.creds.AccessKeyID) {
			return nil, ErrInvalidAccessKey
		}
		return nil, err
	}

	accessKeyID := credParts[0]
	dateStamp := credParts[1]
	region := credParts[2]
	service := credParts[3]

	if !equal(accessKeyID, e.creds.AccessKeyID) {
		return nil, ErrInvalidAccessKey
	}
	if dateStamp == "" || region == "" || service == "" {
		return nil, ErrMalformedAuthorization
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = UnsignedPayload
	}

	canonicalReq := BuildCanonicalRequest(r, strings.Split(params.signedHeaders, ";"), payloadHash)
	crHash := sha256.Sum256([]byte(canonicalReq))

	stringToSign := strings.Join([]string{
		AWSv4Algorithm,
		params.amzDate,
		strings.Join([]string{dateStamp, region, service, "aws4_request"}, "/"),
		hex.EncodeToString(crHash[:]),
	}, "\n")

	computedSignature := HmacSHA256(SigningKey(e.creds.SecretAccessKey, dateStamp, region, service), stringToSign)

	decodedSignature, err := hex.DecodeString(params.signature)
	if err != nil {
		return nil, ErrSignatureMismatch
	}
	if !hmac.Equal(computedSignature, decodedSignature) {
		return nil, ErrSignatureMismatch
	}

	return &User{
		AccessKeyID: accessKeyID,
	}, nil
}
