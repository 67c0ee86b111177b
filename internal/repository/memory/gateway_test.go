package memory

import (
	"testing"

	"studydesk/internal/repository/gatewaytest"
)

func TestGatewayContract(t *testing.T) {
	gatewaytest.Run(t, NewGateway())
}
