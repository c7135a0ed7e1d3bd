package datasource

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/featbit/go-server-sdk/interfaces"
)

// NullUpdateProcessor is used in offline mode: it never connects anywhere and
// reports readiness immediately.
type NullUpdateProcessor struct {
	provider interfaces.DataUpdateStatusProvider
	loggers  ldlog.Loggers
}

func NewNullUpdateProcessor(provider interfaces.DataUpdateStatusProvider, loggers ldlog.Loggers) *NullUpdateProcessor {
	return &NullUpdateProcessor{provider: provider, loggers: loggers}
}

func (p *NullUpdateProcessor) Start(closeWhenReady chan<- struct{}) {
	p.loggers.Info("SDK is in offline mode; no data will be received")
	p.provider.UpdateState(interfaces.NewOKState())
	close(closeWhenReady)
}

func (p *NullUpdateProcessor) IsInitialized() bool {
	return true
}

func (p *NullUpdateProcessor) Close() error {
	p.provider.UpdateState(interfaces.NewNormalOffState())
	return nil
}
