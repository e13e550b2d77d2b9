package controllers

import (
	"sync"

	"github.com/LensVaultHQ/LensVault/internal/pkg/billing"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
)

// BillingServices bundles the wired billing stack the handlers dispatch
// to. main constructs it once after database, cache and job queue are up.
type BillingServices struct {
	Registry   *payments.Registry
	Repo       billing.Repository
	Reconciler *billing.Service
	Ingestor   *billing.Ingestor
	Downgrades *billing.DowngradeService
}

var (
	servicesMu sync.RWMutex
	services   *BillingServices
)

// SetupBillingServices installs the handler dependencies. Must run before
// the router starts serving.
func SetupBillingServices(s *BillingServices) {
	servicesMu.Lock()
	defer servicesMu.Unlock()
	services = s
}

func getServices() *BillingServices {
	servicesMu.RLock()
	defer servicesMu.RUnlock()
	return services
}
