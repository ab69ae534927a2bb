package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func sendCommandCmd() *cobra.Command {
	var (
		addr      string
		transport string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send-command <variable> <value>",
		Short: "Send a single command to a running bridge, for manual testing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			variable, valueStr := args[0], args[1]

			var value float64
			if _, err := fmt.Sscanf(valueStr, "%g", &value); err != nil {
				return fmt.Errorf("invalid value %q: %w", valueStr, err)
			}

			line, err := json.Marshal(struct {
				Variable string  `json:"variable"`
				Value    float64 `json:"value"`
			}{variable, value})
			if err != nil {
				return err
			}

			switch transport {
			case "tcp":
				return sendViaTCP(addr, line, timeout)
			case "ws":
				return sendViaWS(addr, line, timeout)
			default:
				return fmt.Errorf("unknown transport %q (want tcp or ws)", transport)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:12346", "command port address")
	cmd.Flags().StringVar(&transport, "transport", "tcp", "transport to send over (tcp, ws)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect/write timeout")

	return cmd
}

func sendViaTCP(addr string, line []byte, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	fmt.Printf("sent: %s\n", line)
	return nil
}

// sendViaWS performs a minimal RFC 6455 client handshake and sends a single
// masked text frame, then exits without waiting for a reply.
func sendViaWS(addr string, line []byte, timeout time.Duration) error {
	host, path := addr, "/"
	if i := strings.Index(addr, "/"); i >= 0 {
		host, path = addr[:i], addr[i:]
	}

	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	key := base64.StdEncoding.EncodeToString(keyBytes)

	req, err := http.NewRequest(http.MethodGet, "http://"+host+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")

	conn.SetDeadline(time.Now().Add(timeout))
	if err := req.Write(conn); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("handshake rejected: %s", resp.Status)
	}

	frame := maskedTextFrame(line)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	fmt.Printf("sent: %s\n", line)
	return nil
}

// maskedTextFrame builds a single-frame, unfragmented, masked WebSocket text
// frame carrying payload, per RFC 6455 §5.2. Every client-to-server frame
// must be masked; the mask key itself doesn't need to be cryptographically
// strong, only unpredictable per frame.
func maskedTextFrame(payload []byte) []byte {
	const opText = 0x1
	const finBit = 0x80
	const maskBit = 0x80

	var header []byte
	header = append(header, finBit|opText)

	n := len(payload)
	switch {
	case n < 126:
		header = append(header, maskBit|byte(n))
	case n < 1<<16:
		header = append(header, maskBit|126, byte(n>>8), byte(n))
	default:
		header = append(header, maskBit|127,
			byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
			byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}

	mask := make([]byte, 4)
	rand.Read(mask)
	header = append(header, mask...)

	masked := make([]byte, n)
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}

	return append(header, masked...)
}
