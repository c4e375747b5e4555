package storage

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/filial/internal/db"
	"github.com/erazemk/filial/internal/store"
)

func TestUpload(t *testing.T) {
	database := db.NewTestDB(t)
	s := &DB{DB: database, BaseURL: "https://filial.example/"}
	ctx := context.Background()

	u, err := s.Upload(ctx, BucketInvoices, "abc/abc_nota fiscal.pdf", []byte("%PDF-1.4"), "application/pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if u != "https://filial.example/files/danfe-files/abc/abc_nota%20fiscal.pdf" {
		t.Errorf("unexpected url %q", u)
	}

	f, _ := store.GetFile(ctx, database, BucketInvoices, "abc/abc_nota fiscal.pdf")
	if f == nil {
		t.Fatal("expected stored file")
	}
	if f.Checksum != Checksum([]byte("%PDF-1.4")) || len(f.Checksum) != 64 {
		t.Errorf("unexpected checksum %q", f.Checksum)
	}

	if _, err := s.Upload(ctx, BucketInvoices, "x", nil, "application/pdf"); err == nil {
		t.Error("expected error for empty object")
	}
}

func TestChecksumDiffers(t *testing.T) {
	if Checksum([]byte("a")) == Checksum([]byte("b")) {
		t.Error("expected different checksums")
	}
}

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"foto produto.jpg", "foto_produto.jpg"},
		{"Dipirona (1).png", "Dipirona_1.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\loja\nota.pdf`, "nota.pdf"},
		{"ação.webp", "ao.webp"},
		{".hidden", "hidden"},
		{"", "file"},
		{"***", "file"},
	}
	for _, tt := range tests {
		if got := CleanFileName(tt.in); got != tt.want {
			t.Errorf("CleanFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPaths(t *testing.T) {
	if got := InvoicePath("t1", "nota 1.pdf"); got != "t1/t1_nota_1.pdf" {
		t.Errorf("InvoicePath = %q", got)
	}
	at := time.UnixMilli(1760400000123)
	if got := ProductImagePath("t1", at, "foto.jpg"); got != "t1/1760400000123_foto.jpg" {
		t.Errorf("ProductImagePath = %q", got)
	}
}
