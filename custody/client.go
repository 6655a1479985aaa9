package custody

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gbrlsnchs/jwt/v3"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/txwire"
)

var log = logging.Logger("custody")

const requestTokenTTL = 30 * time.Second

// Client talks to the vault service's REST API. Every request carries a
// short-lived RS256 JWT binding the API key, the request path, and a
// hash of the body.
type Client struct {
	endpoint string
	apiKey   string
	alg      *jwt.RSASHA
	http     *http.Client
}

// NewClient loads the API signing key and returns a ready client.
func NewClient(endpoint, apiKey, privateKeyPath string) (*Client, error) {
	if endpoint == "" || apiKey == "" {
		return nil, xerrors.New("custody endpoint and API key are required")
	}
	key, err := loadRSAKey(privateKeyPath)
	if err != nil {
		return nil, xerrors.Errorf("loading custody signing key: %w", err)
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		alg:      jwt.NewRS256(jwt.RSAPrivateKey(key)),
		http:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func loadRSAKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, xerrors.Errorf("%s: no PEM block found", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, xerrors.Errorf("%s: not an RSA private key", path)
	}
	return key, nil
}

type apiClaims struct {
	jwt.Payload
	URI      string `json:"uri"`
	Nonce    string `json:"nonce"`
	BodyHash string `json:"bodyHash"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return xerrors.Errorf("encoding request body: %w", err)
		}
	}
	sum := sha256.Sum256(body)

	now := time.Now()
	token, err := jwt.Sign(apiClaims{
		Payload: jwt.Payload{
			Subject:        c.apiKey,
			IssuedAt:       jwt.NumericDate(now),
			ExpirationTime: jwt.NumericDate(now.Add(requestTokenTTL)),
		},
		URI:      path,
		Nonce:    uuid.New().String(),
		BodyHash: hex.EncodeToString(sum[:]),
	}, c.alg)
	if err != nil {
		return xerrors.Errorf("signing API request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+string(token))
	req.Header.Set("X-API-Key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return xerrors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// ResolveAddress returns the on-chain address behind a vault id.
func (c *Client) ResolveAddress(ctx context.Context, vaultID string) (txwire.PublicKey, error) {
	var res struct {
		Address string `json:"address"`
	}
	path := fmt.Sprintf("/v1/vaults/%s/address", vaultID)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return txwire.PublicKey{}, &ResolutionError{VaultID: vaultID, Err: err}
	}
	if res.Address == "" {
		return txwire.PublicKey{}, &ResolutionError{VaultID: vaultID}
	}
	pk, err := txwire.ParsePublicKey(res.Address)
	if err != nil {
		return txwire.PublicKey{}, &ResolutionError{VaultID: vaultID, Err: err}
	}
	log.Debugw("resolved vault", "vault", vaultID, "address", res.Address)
	return pk, nil
}

// CreateRawSigning opens an asynchronous raw-signing request for the
// given payloads and returns the request id. The external id makes the
// request traceable from the service's audit log back to this run.
func (c *Client) CreateRawSigning(ctx context.Context, msgs []RawMessage, sourceVault, note string) (string, error) {
	req := struct {
		SourceVault string       `json:"sourceVault"`
		Note        string       `json:"note,omitempty"`
		ExternalID  string       `json:"externalId"`
		Messages    []RawMessage `json:"messages"`
	}{
		SourceVault: sourceVault,
		Note:        note,
		ExternalID:  uuid.New().String(),
		Messages:    msgs,
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/signing_requests", req, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", xerrors.New("service returned no signing request id")
	}
	return res.ID, nil
}

// GetRequest fetches the current status of a signing request.
func (c *Client) GetRequest(ctx context.Context, id string) (*RequestStatus, error) {
	var res RequestStatus
	if err := c.do(ctx, http.MethodGet, "/v1/signing_requests/"+id, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
