package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erazemk/filial/internal/model"
)

// Remote queries an external lookup service:
//
//	GET {BaseURL}/buscar?valor=<value>&campo=codbarras|codinterno|nome
//
// which answers {"resultados": [{"codbarras", "codinterno", "nome"}, ...]}.
type Remote struct {
	BaseURL string
	Client  *http.Client
}

// NewRemote returns a Remote with its own client and timeout.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	return &Remote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type remoteProduct struct {
	Barcode      string `json:"codbarras"`
	InternalCode string `json:"codinterno"`
	Name         string `json:"nome"`
}

type remoteResponse struct {
	Results []remoteProduct `json:"resultados"`
}

var remoteFields = map[Field]string{
	FieldBarcode:      "codbarras",
	FieldInternalCode: "codinterno",
	FieldName:         "nome",
}

// Search implements Source.
func (r *Remote) Search(ctx context.Context, field Field, value string) ([]model.Product, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrEmptyQuery
	}
	campo, ok := remoteFields[field]
	if !ok {
		return nil, fmt.Errorf("unknown search field %q", field)
	}

	q := url.Values{}
	q.Set("valor", value)
	q.Set("campo", campo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/buscar?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying product lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("product lookup returned status %d", resp.StatusCode)
	}

	var body remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding product lookup response: %w", err)
	}

	products := make([]model.Product, 0, len(body.Results))
	for _, p := range body.Results {
		products = append(products, model.Product{
			Barcode:      p.Barcode,
			InternalCode: p.InternalCode,
			Name:         p.Name,
		})
	}
	return products, nil
}
