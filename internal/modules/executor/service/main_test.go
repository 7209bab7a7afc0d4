package service

import (
	"os"
	"testing"

	"gap_trader/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error")
	os.Exit(m.Run())
}
