package stats

import "github.com/stretchr/testify/mock"

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Register(name string) {
	m.Called(name)
}

func (m *MockRecorder) Add(name string, delta int64) {
	m.Called(name, delta)
}

// NewDiscardRecorder accepts every update.
func NewDiscardRecorder() *MockRecorder {
	m := &MockRecorder{}
	m.On("Register", mock.Anything).Maybe()
	m.On("Add", mock.Anything, mock.Anything).Maybe()

	return m
}
