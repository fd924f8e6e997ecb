package entitystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/localzure/brokerd/internal/model"
)

func TestValidateEntityPropertiesAcceptsDefaults(t *testing.T) {
	assert.NoError(t, ValidateEntityProperties(model.DefaultEntityProperties()))
}

func TestValidateEntityPropertiesRejectsOversizedQueue(t *testing.T) {
	props := model.DefaultEntityProperties()
	props.MaxSizeInBytes = 200 * 1024 * 1024 * 1024
	assert.Error(t, ValidateEntityProperties(props))
}

func TestValidateEntityPropertiesRejectsLockDurationOutOfBounds(t *testing.T) {
	props := model.DefaultEntityProperties()
	props.LockDuration = 0

	assert.Error(t, ValidateEntityProperties(props))

	props.LockDuration = 10 * time.Minute
	assert.Error(t, ValidateEntityProperties(props))
}

func TestValidateEntityPropertiesRejectsZeroMaxDeliveryCount(t *testing.T) {
	props := model.DefaultEntityProperties()
	props.MaxDeliveryCount = 0
	assert.Error(t, ValidateEntityProperties(props))
}
