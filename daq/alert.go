// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/qdc/internal/config"
	mail "gopkg.in/gomail.v2"
)

// Alerter sends a mail once a number of consecutive readout failures
// has been reached.
type Alerter struct {
	mu    sync.Mutex
	cfg   config.Alert
	msg   *log.Logger
	fails int
	sent  int

	send func(m *mail.Message) error
}

// NewAlerter returns an alerter sending mails through the SMTP server
// described by cfg.
func NewAlerter(cfg config.Alert) *Alerter {
	if cfg.After <= 0 {
		cfg.After = 1
	}
	dial := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return &Alerter{
		cfg:  cfg,
		msg:  log.New(os.Stdout, "daq: ", 0),
		send: func(m *mail.Message) error {
			return dial.DialAndSend(m)
		},
	}
}

// Fail records a readout failure of module id.
// A single alert is sent per series of consecutive failures.
func (a *Alerter) Fail(id int, err error) {
	a.mu.Lock()
	a.fails++
	if a.fails != a.cfg.After {
		a.mu.Unlock()
		return
	}
	n := a.fails
	a.mu.Unlock()

	host, _ := os.Hostname()
	m := mail.NewMessage()
	m.SetHeader("From", a.cfg.From)
	m.SetHeader("Bcc", a.cfg.To...)
	m.SetHeader("Subject", fmt.Sprintf("[qdc] readout alert on %q: module %d", host, id))
	m.SetBody("text/plain", fmt.Sprintf("module: %d\nfailures: %d\nerror: %+v\n", id, n, err))

	err = a.send(m)
	if err != nil {
		a.msg.Printf("could not send mail alert: %+v", err)
		return
	}

	a.mu.Lock()
	a.sent++
	a.mu.Unlock()
}

// OK resets the count of consecutive failures.
func (a *Alerter) OK() {
	a.mu.Lock()
	a.fails = 0
	a.mu.Unlock()
}

// Sent returns the number of alerts sent.
func (a *Alerter) Sent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent
}
