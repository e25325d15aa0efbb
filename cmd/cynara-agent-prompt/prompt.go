// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lukaszwojciechowski/cynara/lib/client"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

var errDaemonClosed = errors.New("daemon closed the agent connection")

// answerer is the part of client.AgentConn the prompter needs.
type answerer interface {
	Answer(id string, result policy.Result) error
}

type keyAction int

const (
	keyIgnored keyAction = iota
	keyAllow
	keyDeny
	keyQuit
)

const ctrlC = 0x03

func actionForKey(key byte) keyAction {
	switch key {
	case 'y', 'Y':
		return keyAllow
	case 'n', 'N':
		return keyDeny
	case 'q', 'Q', ctrlC:
		return keyQuit
	}
	return keyIgnored
}

type promptStyles struct {
	box   lipgloss.Style
	title lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
	hint  lipgloss.Style
	allow lipgloss.Style
	deny  lipgloss.Style
}

func newPromptStyles() promptStyles {
	return promptStyles{
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("245")).
			Padding(0, 1),
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10),
		value: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		hint:  lipgloss.NewStyle().Faint(true),
		allow: lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		deny:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

// renderRequest draws request as a box. waiting is the number of
// requests queued behind it.
func renderRequest(styles promptStyles, request client.AgentRequest, waiting int) string {
	field := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, styles.label.Render(label), styles.value.Render(value))
	}
	rows := []string{
		styles.title.Render("Permission request"),
		"",
		field("client", request.Payload.Client),
		field("user", request.Payload.User),
		field("privilege", request.Payload.Privilege),
	}
	if request.Payload.Metadata != "" {
		rows = append(rows, field("note", request.Payload.Metadata))
	}
	rows = append(rows, "", styles.hint.Render("[y] allow   [n] deny   [q] quit"))
	if waiting > 0 {
		rows = append(rows, styles.hint.Render(fmt.Sprintf("%d more waiting", waiting)))
	}
	return styles.box.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// prompter shows queued requests one at a time and answers the head
// of the queue from key presses.
type prompter struct {
	answerer answerer
	out      io.Writer
	newline  string
	styles   promptStyles
	queue    []client.AgentRequest
}

// newPrompter writes to out, ending lines with newline ("\r\n" for a
// terminal in raw mode).
func newPrompter(answerer answerer, out io.Writer, newline string) *prompter {
	return &prompter{
		answerer: answerer,
		out:      out,
		newline:  newline,
		styles:   newPromptStyles(),
	}
}

// run handles requests and keys until ctx is done, a quit key is
// pressed, keys closes, or requests closes (errDaemonClosed).
func (p *prompter) run(ctx context.Context, requests <-chan client.AgentRequest, keys <-chan byte) error {
	p.show()
	for {
		select {
		case <-ctx.Done():
			return nil
		case request, ok := <-requests:
			if !ok {
				return errDaemonClosed
			}
			p.receive(request)
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			quit, err := p.press(key)
			if quit || err != nil {
				return err
			}
		}
	}
}

func (p *prompter) receive(request client.AgentRequest) {
	if !request.Cancelled {
		p.queue = append(p.queue, request)
		if len(p.queue) == 1 {
			p.show()
		}
		return
	}
	for i, queued := range p.queue {
		if queued.ID != request.ID {
			continue
		}
		p.queue = append(p.queue[:i], p.queue[i+1:]...)
		if i == 0 {
			p.println(p.styles.hint.Render("Request withdrawn."))
			p.show()
		}
		return
	}
}

func (p *prompter) press(key byte) (bool, error) {
	var result policy.Result
	switch actionForKey(key) {
	case keyQuit:
		return true, nil
	case keyAllow:
		result = policy.AllowResult("")
	case keyDeny:
		result = policy.DenyResult("")
	default:
		return false, nil
	}
	if len(p.queue) == 0 {
		return false, nil
	}
	head := p.queue[0]
	if err := p.answerer.Answer(head.ID, result); err != nil {
		return false, err
	}
	p.queue = p.queue[1:]
	if result.Type == policy.TypeAllow {
		p.println(p.styles.allow.Render("Allowed."))
	} else {
		p.println(p.styles.deny.Render("Denied."))
	}
	p.show()
	return false, nil
}

func (p *prompter) show() {
	if len(p.queue) == 0 {
		p.println(p.styles.hint.Render("Waiting for requests. [q] quit"))
		return
	}
	p.println(renderRequest(p.styles, p.queue[0], len(p.queue)-1))
}

func (p *prompter) println(text string) {
	fmt.Fprint(p.out, strings.ReplaceAll(text, "\n", p.newline)+p.newline)
}
