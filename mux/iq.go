// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"mellium.im/xclient/stanza"
)

// IQHandler responds to get and set IQ stanzas.
type IQHandler interface {
	HandleGet(iq *stanza.Stanza, w Writer) error
	HandleSet(iq *stanza.Stanza, w Writer) error
}

// ServeIQ calls the method of h that corresponds to the type of iq.
// Responses (result and error IQs) are ignored.
func ServeIQ(h IQHandler, iq *stanza.Stanza, w Writer) error {
	switch iq.Type() {
	case stanza.GetIQ:
		return h.HandleGet(iq, w)
	case stanza.SetIQ:
		return h.HandleSet(iq, w)
	}
	return nil
}

// IQModule is a Module that handles IQs matched by Criteria using Handler.
type IQModule struct {
	Identifier string
	Criteria   Criteria
	Handler    IQHandler
	Advertise  []string
}

// ID satisfies Module.
func (m IQModule) ID() string { return m.Identifier }

// Features satisfies FeatureAdvertiser.
func (m IQModule) Features() []string { return m.Advertise }

// Match satisfies Module by matching IQ stanzas that also satisfy m.Criteria.
func (m IQModule) Match(st *stanza.Stanza) bool {
	return st.Name() == "iq" && (m.Criteria == nil || m.Criteria.Match(st))
}

// HandleStanza satisfies Module.
func (m IQModule) HandleStanza(st *stanza.Stanza, w Writer) error {
	return ServeIQ(m.Handler, st, w)
}

// NotAllowed is an IQ handler method body that rejects the request.
// It can be used by handlers that only support one of get or set.
func NotAllowed(*stanza.Stanza, Writer) error {
	return stanza.Error{Type: stanza.Cancel, Condition: stanza.NotAllowed}
}
