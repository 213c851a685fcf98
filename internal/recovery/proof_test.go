package recovery

import (
	"errors"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestApprovalMessage_Format(t *testing.T) {
	msg := ApprovalMessage("rcv_1", "0xAAAA000000000000000000000000000000000001", "0xBBBB000000000000000000000000000000000002")
	want := "Keyward Recovery|rcv_1|0xaaaa000000000000000000000000000000000001|0xbbbb000000000000000000000000000000000002"
	if msg != want {
		t.Errorf("message = %q, want %q", msg, want)
	}
}

func TestSignAndRecover_RoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	identity := strings.ToLower(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())

	sig, err := SignApproval(key, "rcv_1", testWallet, testNewOwner)
	if err != nil {
		t.Fatalf("SignApproval: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+130 {
		t.Fatalf("unexpected signature shape: %q", sig)
	}

	recovered, err := RecoverApprover("rcv_1", testWallet, testNewOwner, sig)
	if err != nil {
		t.Fatalf("RecoverApprover: %v", err)
	}
	if recovered != identity {
		t.Errorf("recovered %s, want %s", recovered, identity)
	}
}

func TestVerifyApprovalProof(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	identity := strings.ToLower(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	req := &Request{ID: "rcv_1", WalletIdentity: testWallet, ProposedNewOwner: testNewOwner}

	sig, err := SignApproval(key, req.ID, req.WalletIdentity, req.ProposedNewOwner)
	if err != nil {
		t.Fatalf("SignApproval: %v", err)
	}

	if err := VerifyApprovalProof(req, identity, sig); err != nil {
		t.Errorf("valid proof rejected: %v", err)
	}

	// Checksummed identity still verifies.
	if err := VerifyApprovalProof(req, ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), sig); err != nil {
		t.Errorf("checksummed identity rejected: %v", err)
	}

	// A different guardian's identity does not.
	other, _ := ethcrypto.GenerateKey()
	otherID := strings.ToLower(ethcrypto.PubkeyToAddress(other.PublicKey).Hex())
	if err := VerifyApprovalProof(req, otherID, sig); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for wrong identity, got %v", err)
	}
}

func TestVerifyApprovalProof_BindsRequestFields(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	identity := strings.ToLower(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	req := &Request{ID: "rcv_1", WalletIdentity: testWallet, ProposedNewOwner: testNewOwner}

	sig, _ := SignApproval(key, req.ID, req.WalletIdentity, req.ProposedNewOwner)

	// Replaying the signature against another request fails.
	other := &Request{ID: "rcv_2", WalletIdentity: testWallet, ProposedNewOwner: testNewOwner}
	if err := VerifyApprovalProof(other, identity, sig); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for replayed signature, got %v", err)
	}

	// Tampering with the proposed owner fails too.
	tampered := &Request{ID: "rcv_1", WalletIdentity: testWallet, ProposedNewOwner: testWallet}
	if err := VerifyApprovalProof(tampered, identity, sig); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for tampered owner, got %v", err)
	}
}

func TestRecoverApprover_MalformedSignatures(t *testing.T) {
	cases := []struct {
		name string
		sig  string
	}{
		{"not hex", "0xzzzz"},
		{"too short", "0xdeadbeef"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := RecoverApprover("rcv_1", testWallet, testNewOwner, tc.sig); !errors.Is(err, ErrInvalidProof) {
				t.Errorf("expected ErrInvalidProof, got %v", err)
			}
		})
	}
}
