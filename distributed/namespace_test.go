// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"testing"

	"github.com/google/uuid"
)

func TestNamespaceBlobName(t *testing.T) {
	ns := NewNamespace("personal", "ns1")
	if got := ns.BlobName("chunk", "abc123"); got != "ns1:chunk:abc123" {
		t.Fatalf("got %q", got)
	}
}

func TestEvaluateACLFirstMatchWins(t *testing.T) {
	machine := uuid.New()
	other := uuid.New()

	rules := []ACLRule{
		{Subject: MachineSubject(other), Permissions: []Permission{PermRead, PermWrite}, PathPattern: "/**"},
		{Subject: MachineSubject(machine), Permissions: []Permission{PermRead}, PathPattern: "/**"},
	}

	if EvaluateACL(rules, MachineSubject(machine), nil, PermWrite, "/secret") {
		t.Fatal("machine should not get write access granted to a different subject's rule")
	}
	if !EvaluateACL(rules, MachineSubject(machine), nil, PermRead, "/secret") {
		t.Fatal("machine should get read access from its own matching rule")
	}
}

func TestEvaluateACLDefaultDeny(t *testing.T) {
	machine := uuid.New()
	if EvaluateACL(nil, MachineSubject(machine), nil, PermRead, "/anything") {
		t.Fatal("absence of a matching rule must deny")
	}
}

func TestEvaluateACLMachineGroup(t *testing.T) {
	machine := uuid.New()
	groups := map[string][]uuid.UUID{"admins": {machine}}

	rules := []ACLRule{
		{Subject: MachineGroupSubject("admins"), Permissions: []Permission{PermAdmin}, PathPattern: "/**"},
	}

	if !EvaluateACL(rules, MachineSubject(machine), groups, PermAdmin, "/cfg") {
		t.Fatal("group member should inherit the group's permissions")
	}

	nonMember := uuid.New()
	if EvaluateACL(rules, MachineSubject(nonMember), groups, PermAdmin, "/cfg") {
		t.Fatal("non-member must not inherit the group's permissions")
	}
}

func TestEvaluateACLPublicSubject(t *testing.T) {
	rules := []ACLRule{
		{Subject: Subject{Kind: SubjectPublic}, Permissions: []Permission{PermRead}, PathPattern: "/public/**"},
	}

	if !EvaluateACL(rules, Subject{Kind: SubjectPublic}, nil, PermRead, "/public/file.txt") {
		t.Fatal("public rule should match an unauthenticated requester")
	}
	if EvaluateACL(rules, Subject{Kind: SubjectPublic}, nil, PermRead, "/private/file.txt") {
		t.Fatal("pattern outside the rule's path must not match")
	}
}
