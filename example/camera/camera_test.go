package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-pcienpu"
)

func TestCheckPayloads(t *testing.T) {

	sess, err := openSession("", true, pcienpu.DefaultSessionConfig())
	require.NoError(t, err)

	defer sess.Close()

	// 640x480 RGB frame
	err = checkPayloads(sess, 640*480*3, 1001, false)
	assert.True(t, errors.Is(err, pcienpu.ErrBufferTooLarge))

	err = checkPayloads(sess, 16*16*3, 2000, false)
	assert.True(t, errors.Is(err, pcienpu.ErrBufferTooLarge), "output exceeds window")

	assert.NoError(t, checkPayloads(sess, 16*16*3, 10, false))
	assert.NoError(t, checkPayloads(sess, 640*480*3, 1001, true))
}

func TestParseCores(t *testing.T) {

	cores, err := parseCores("4, 5,6")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6}, cores)

	_, err = parseCores("4,x")
	assert.Error(t, err)
}
