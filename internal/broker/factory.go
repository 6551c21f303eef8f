package broker

import (
	"fmt"
	"strings"

	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/crypto"
)

// SupportedBrokers - список поддерживаемых брокеров
var SupportedBrokers = []string{
	"paper",
	"zerodha",
}

// Factory создает шлюзы по брокерским аккаунтам пользователей.
// Учётные данные в аккаунтах зашифрованы AES-256-GCM; factory -
// единственное место, где они расшифровываются.
type Factory struct {
	encryptionKey []byte
	bus           store.Bus
	paperBalance  float64
}

// NewFactory создает factory шлюзов
func NewFactory(encryptionKey []byte, bus store.Bus, paperBalance float64) (*Factory, error) {
	if err := crypto.ValidateKey(encryptionKey); err != nil {
		return nil, err
	}
	return &Factory{
		encryptionKey: encryptionKey,
		bus:           bus,
		paperBalance:  paperBalance,
	}, nil
}

// Gateway создает шлюз для брокерского аккаунта
func (f *Factory) Gateway(account *models.BrokerAccount) (Gateway, error) {
	name := strings.ToLower(account.Broker)

	switch name {
	case "paper":
		return NewPaper(account.UserID, f.bus, f.paperBalance), nil
	case "zerodha":
		apiKey, err := crypto.Decrypt(account.APIKey, f.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt api key for %s: %w", account.Broker, err)
		}
		accessToken, err := crypto.Decrypt(account.AccessToken, f.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt access token for %s: %w", account.Broker, err)
		}
		return NewZerodha(apiKey, accessToken), nil
	default:
		return nil, fmt.Errorf("unsupported broker: %s", account.Broker)
	}
}

// IsSupported проверяет, поддерживается ли брокер
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedBrokers {
		if name == supported {
			return true
		}
	}
	return false
}
