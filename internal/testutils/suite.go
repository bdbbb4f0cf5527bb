package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/ssk18/BleFlux/pkg/adapter"
	"github.com/ssk18/BleFlux/pkg/blerr"
	"github.com/ssk18/BleFlux/pkg/hub"
)

// ControllerSuite is the shared base for controller tests: a quiet logger,
// a fresh mock adapter and checker, and an exception hub per test.
type ControllerSuite struct {
	suite.Suite

	Logger  *logrus.Logger
	Adapter *MockAdapter
	Checker *adapter.StaticChecker
	Errors  *hub.Hub[*blerr.Error]
}

// SetupTest resets all collaborators.
func (s *ControllerSuite) SetupTest() {
	s.Logger = logrus.New()
	s.Logger.SetLevel(logrus.PanicLevel)
	s.Adapter = NewMockAdapter()
	s.Checker = adapter.AllGranted()
	s.Errors = hub.New[*blerr.Error](s.Logger)
}

// TearDownTest closes the exception hub.
func (s *ControllerSuite) TearDownTest() {
	if s.Errors != nil {
		s.Errors.Close()
	}
}
