/*
Copyright 2023 Nike, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transport

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/common"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
	"github.com/rs/xid"
	"github.com/stretchr/testify/suite"
)

// stubCore accepts connections, consumes the handshake and hands request
// frames to the suite's handler
type stubCore struct {
	listener net.Listener

	mu          sync.Mutex
	connections []net.Conn

	// invoked per request with a responder that writes frames back
	handleRequest func(request *wire.Request, respond func(*wire.Response) error)
}

func newStubCore(socketPath string) (*stubCore, error) {
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	core := &stubCore{listener: listener}

	go core.acceptLoop()

	return core, nil
}

func (s *stubCore) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.connections = append(s.connections, conn)
		s.mu.Unlock()

		go s.serve(conn)
	}
}

func (s *stubCore) serve(conn net.Conn) {
	frameReader := wire.NewFrameReader(conn, &wire.JSONCodec{})
	frameWriter := wire.NewFrameWriter(conn, &wire.JSONCodec{})

	// handshake first
	if frame, err := frameReader.ReadFrame(); err != nil || frame.Type != wire.FrameHandshake {
		return
	}

	var writeMu sync.Mutex
	respond := func(response *wire.Response) error {
		writeMu.Lock()
		defer writeMu.Unlock()

		return frameWriter.WriteFrame(&wire.Frame{
			Type:     wire.FrameResponse,
			Response: response,
		})
	}

	for {
		frame, err := frameReader.ReadFrame()
		if err != nil {
			return
		}

		if frame.Type == wire.FrameRequest && s.handleRequest != nil {
			go s.handleRequest(frame.Request, respond)
		}
	}
}

// dropConnections severs every live connection without stopping the listener
func (s *stubCore) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.connections {
		conn.Close() // nolint: errcheck
	}
	s.connections = nil
}

func (s *stubCore) close() {
	s.listener.Close() // nolint: errcheck
	s.dropConnections()
}

type ClientTestSuite struct {
	suite.Suite
	logger     logger.Logger
	socketPath string
	core       *stubCore
}

func (suite *ClientTestSuite) SetupSuite() {
	suite.logger, _ = nucliozap.NewNuclioZapTest("test")
}

func (suite *ClientTestSuite) SetupTest() {
	suite.socketPath = filepath.Join(os.TempDir(), fmt.Sprintf("ggc-%s.sock", xid.New()))

	var err error
	suite.core, err = newStubCore(suite.socketPath)
	suite.Require().NoError(err)
}

func (suite *ClientTestSuite) TearDownTest() {
	suite.core.close()
	os.Remove(suite.socketPath) // nolint: errcheck
}

func (suite *ClientTestSuite) TestConcurrentCallsDontInterleave() {
	suite.core.handleRequest = func(request *wire.Request, respond func(*wire.Response) error) {
		respond(&wire.Response{ // nolint: errcheck
			ID:   request.ID,
			Body: []byte("echo:" + request.Topic),
			Last: true,
		})
	}

	client := suite.newConnectedClient(0)
	defer client.Close() // nolint: errcheck

	var waitGroup sync.WaitGroup

	for callIdx := 0; callIdx < 16; callIdx++ {
		waitGroup.Add(1)

		go func(callIdx int) {
			defer waitGroup.Done()

			topic := fmt.Sprintf("topic-%d", callIdx)

			call, err := client.Call(&wire.Request{
				ID:    xid.New().String(),
				Kind:  wire.KindPublish,
				Topic: topic,
			})
			suite.Require().NoError(err)

			response, err := call.Next()
			suite.Require().NoError(err)
			suite.Require().Equal("echo:"+topic, string(response.Body))
		}(callIdx)
	}

	waitGroup.Wait()
}

func (suite *ClientTestSuite) TestDisconnectFailsInFlightCalls() {
	requestReceived := make(chan struct{})

	// hold the request open so it is in flight when the connection drops
	suite.core.handleRequest = func(request *wire.Request, respond func(*wire.Response) error) {
		close(requestReceived)
	}

	client := suite.newConnectedClient(0)
	defer client.Close() // nolint: errcheck

	call, err := client.Call(&wire.Request{ID: xid.New().String(), Kind: wire.KindPublish, Topic: "t"})
	suite.Require().NoError(err)

	<-requestReceived
	suite.core.dropConnections()

	_, err = call.Next()
	suite.Require().Error(err)
	suite.Require().True(ggerrors.Is(err, ggerrors.ErrDisconnected))

	// with no reconnect attempts the loss is terminal
	<-client.Done()
	suite.Require().True(ggerrors.Is(client.Err(), ggerrors.ErrDisconnected))
}

func (suite *ClientTestSuite) TestReconnectResumesCalls() {
	suite.core.handleRequest = func(request *wire.Request, respond func(*wire.Response) error) {
		respond(&wire.Response{ID: request.ID, Last: true}) // nolint: errcheck
	}

	client := suite.newConnectedClient(10)
	defer client.Close() // nolint: errcheck

	suite.core.dropConnections()

	// calls fail while the client redials, then go through again
	err := common.RetryUntilSuccessful(5*time.Second, 50*time.Millisecond, func() bool {
		call, err := client.Call(&wire.Request{ID: xid.New().String(), Kind: wire.KindPublish, Topic: "t"})
		if err != nil {
			return false
		}

		_, err = call.Next()
		return err == nil
	})
	suite.Require().NoError(err)
}

func (suite *ClientTestSuite) TestSendersDuringReconnectDontRace() {
	suite.core.handleRequest = func(request *wire.Request, respond func(*wire.Response) error) {
		respond(&wire.Response{ID: request.ID, Last: true}) // nolint: errcheck
	}

	client := suite.newConnectedClient(50)
	defer client.Close() // nolint: errcheck

	stop := make(chan struct{})

	var waitGroup sync.WaitGroup

	// keep callers in flight while the connection is repeatedly dropped,
	// so sends overlap the redials. Call errors are expected mid-drop -
	// the point is that nothing panics or races.
	for senderIdx := 0; senderIdx < 4; senderIdx++ {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				call, err := client.Call(&wire.Request{
					ID:    xid.New().String(),
					Kind:  wire.KindPublish,
					Topic: "t",
				})
				if err != nil {
					time.Sleep(time.Millisecond)
					continue
				}

				call.Next() // nolint: errcheck
			}
		}()
	}

	for dropIdx := 0; dropIdx < 5; dropIdx++ {
		time.Sleep(20 * time.Millisecond)
		suite.core.dropConnections()
	}

	close(stop)
	waitGroup.Wait()

	// the client must have found its way back to a working connection
	err := common.RetryUntilSuccessful(5*time.Second, 50*time.Millisecond, func() bool {
		call, err := client.Call(&wire.Request{ID: xid.New().String(), Kind: wire.KindPublish, Topic: "t"})
		if err != nil {
			return false
		}

		_, err = call.Next()
		return err == nil
	})
	suite.Require().NoError(err)
}

func (suite *ClientTestSuite) TestCloseTwiceIsInvalidState() {
	client := suite.newConnectedClient(0)

	suite.Require().NoError(client.Close())

	err := client.Close()
	suite.Require().Error(err)
	suite.Require().True(ggerrors.Is(err, ggerrors.ErrInvalidState))
}

func (suite *ClientTestSuite) TestCallWithoutIDIsInvalidParameter() {
	client := suite.newConnectedClient(0)
	defer client.Close() // nolint: errcheck

	_, err := client.Call(&wire.Request{})
	suite.Require().Error(err)
	suite.Require().True(ggerrors.Is(err, ggerrors.ErrInvalidParameter))
}

func (suite *ClientTestSuite) newConnectedClient(maxReconnectAttempts int) *Client {
	client, err := NewClient(suite.logger, &Config{
		Address:              suite.socketPath,
		MaxReconnectAttempts: maxReconnectAttempts,
		ReconnectInterval:    20 * time.Millisecond,
	})
	suite.Require().NoError(err)
	suite.Require().NoError(client.Connect())

	return client
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
