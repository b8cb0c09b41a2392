package exchange

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	l1DomainName    = "Exchange"
	l1DomainVersion = "1"
	l1ChainID       = 1337

	sourceMainnet = "a"
	sourceTestnet = "b"
)

var zeroAddress = common.Address{}

// Signer подписывает L1-действия Hyperliquid (phantom agent + EIP-712).
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	mainnet bool
}

func NewSigner(hexKey string, mainnet bool) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		mainnet: mainnet,
	}, nil
}

// Address: адрес ключа. Может отличаться от кошелька аккаунта, если ключ от API-агента.
func (s *Signer) Address() common.Address { return s.address }

// actionHash = keccak256(msgpack(action) || nonce(8 байт BE) || vault-флаг [|| vault]).
func actionHash(action any, nonce uint64, vault *common.Address) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, errors.Wrap(err, "msgpack action")
	}

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf.Write(n[:])

	if vault == nil {
		buf.WriteByte(0x00)
	} else {
		buf.WriteByte(0x01)
		buf.Write(vault.Bytes())
	}
	return crypto.Keccak256(buf.Bytes()), nil
}

func (s *Signer) agentTypedData(connectionID []byte) apitypes.TypedData {
	source := sourceMainnet
	if !s.mainnet {
		source = sourceTestnet
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              l1DomainName,
			Version:           l1DomainVersion,
			ChainId:           math.NewHexOrDecimal256(l1ChainID),
			VerifyingContract: zeroAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": connectionID,
		},
	}
}

// typedDataHash считает \x19\x01 || domainSeparator || hashStruct(message).
func typedDataHash(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "hash domain")
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, errors.Wrap(err, "hash message")
	}

	raw := []byte("\x19\x01")
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// SignL1Action подписывает действие для POST /exchange.
func (s *Signer) SignL1Action(action any, nonce uint64, vault *common.Address) (Signature, error) {
	hash, err := actionHash(action, nonce, vault)
	if err != nil {
		return Signature{}, err
	}
	digest, err := typedDataHash(s.agentTypedData(hash))
	if err != nil {
		return Signature{}, err
	}

	// r(32) || s(32) || v(1), v в {0,1}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, errors.Wrap(err, "sign")
	}
	return Signature{
		R: hexutil.EncodeBig(new(big.Int).SetBytes(sig[:32])),
		S: hexutil.EncodeBig(new(big.Int).SetBytes(sig[32:64])),
		V: sig[64] + 27,
	}, nil
}
