package recovery

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ApprovalMessage builds the message a guardian signs to approve a request.
// Format: "Keyward Recovery|{requestId}|{wallet}|{newOwner}"
func ApprovalMessage(requestID, walletIdentity, proposedNewOwner string) string {
	return fmt.Sprintf("Keyward Recovery|%s|%s|%s",
		requestID,
		strings.ToLower(walletIdentity),
		strings.ToLower(proposedNewOwner),
	)
}

// hashApprovalMessage prefixes the message per EIP-191 before hashing,
// matching what wallet signers produce for personal_sign.
func hashApprovalMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// SignApproval signs an approval message with the guardian's private key.
// Returns a hex-encoded 65-byte signature with v in {27, 28}.
func SignApproval(key *ecdsa.PrivateKey, requestID, walletIdentity, proposedNewOwner string) (string, error) {
	hash := hashApprovalMessage(ApprovalMessage(requestID, walletIdentity, proposedNewOwner))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign approval: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverApprover recovers the signer address from an approval signature.
func RecoverApprover(requestID, walletIdentity, proposedNewOwner, signatureHex string) (string, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")

	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("%w: invalid signature hex", ErrInvalidProof)
	}
	if len(signature) != 65 {
		return "", fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrInvalidProof, len(signature))
	}

	// Wallet signatures carry v = 27 or 28; Ecrecover expects 0 or 1.
	if signature[64] >= 27 {
		signature[64] -= 27
	}

	hash := hashApprovalMessage(ApprovalMessage(requestID, walletIdentity, proposedNewOwner))

	pubKeyBytes, err := crypto.Ecrecover(hash, signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// VerifyApprovalProof checks that the signature binds the guardian's key to
// this specific request. The signature is verified against the guardian's
// public identity alone; the service never holds guardian secrets.
func VerifyApprovalProof(req *Request, guardianIdentity, signatureHex string) error {
	recovered, err := RecoverApprover(req.ID, req.WalletIdentity, req.ProposedNewOwner, signatureHex)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered, guardianIdentity) {
		return fmt.Errorf("%w: signer %s does not match guardian %s", ErrInvalidProof, recovered, strings.ToLower(guardianIdentity))
	}
	return nil
}
