// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// NamespaceType tags the distribution mode of a namespace, per §3's
// "type ∈ {standalone, master-replica(master_id, replicas),
// distributed(cluster_id, members)}".
type NamespaceType int

const (
	NamespaceStandalone NamespaceType = iota
	NamespaceMasterReplica
	NamespaceDistributed
)

// Namespace isolates an independent metadata tree, vector clock, and
// remote blob prefix, per §4.6: "Each namespace owns independent
// metadata sub-stores; has a distinct telegram_prefix applied to all
// remote blobs; has its own namespace_key."
type Namespace struct {
	Name         string
	Type         NamespaceType
	MasterID     uuid.UUID
	Replicas     []uuid.UUID
	ClusterID    uuid.UUID
	Members      []uuid.UUID
	RemotePrefix string
	ACL          []ACLRule

	VectorClock *VectorClock
}

// NewNamespace returns a standalone namespace named name.
func NewNamespace(name, remotePrefix string) *Namespace {
	return &Namespace{
		Name:         name,
		Type:         NamespaceStandalone,
		RemotePrefix: remotePrefix,
		VectorClock:  NewVectorClock(),
	}
}

// BlobName composes the identifying caption for a remote object
// belonging to this namespace, per §6: "<namespace_prefix>:<type>:<id>".
func (n *Namespace) BlobName(blobType, id string) string {
	return n.RemotePrefix + ":" + blobType + ":" + id
}

// Permission is a single capability an ACL rule can grant.
type Permission int

const (
	PermRead Permission = iota
	PermWrite
	PermDelete
	PermAdmin
)

// Subject identifies who an ACL rule applies to, per §4.6:
// "Machine(uuid) | MachineGroup(name) | AnyAuthenticated | Public".
type Subject struct {
	Kind        SubjectKind
	MachineID   uuid.UUID
	GroupName   string
}

// SubjectKind tags the variant of Subject.
type SubjectKind int

const (
	SubjectMachine SubjectKind = iota
	SubjectMachineGroup
	SubjectAnyAuthenticated
	SubjectPublic
)

// MachineSubject returns a Subject naming a single machine.
func MachineSubject(machineID uuid.UUID) Subject {
	return Subject{Kind: SubjectMachine, MachineID: machineID}
}

// MachineGroupSubject returns a Subject naming a machine group.
func MachineGroupSubject(name string) Subject {
	return Subject{Kind: SubjectMachineGroup, GroupName: name}
}

// ACLRule is one ordered access control entry, per §4.6:
// "(subject, permissions={read,write,delete,admin}, path_pattern)".
type ACLRule struct {
	Subject     Subject
	Permissions []Permission
	PathPattern string
}

func (r *ACLRule) grants(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

func (r *ACLRule) matchesSubject(requester Subject, groups map[string][]uuid.UUID) bool {
	switch r.Subject.Kind {
	case SubjectPublic:
		return true
	case SubjectAnyAuthenticated:
		return requester.Kind != SubjectPublic
	case SubjectMachine:
		return requester.Kind == SubjectMachine && requester.MachineID == r.Subject.MachineID
	case SubjectMachineGroup:
		if requester.Kind != SubjectMachine {
			return false
		}
		for _, member := range groups[r.Subject.GroupName] {
			if member == requester.MachineID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matchesPath supports plain shell glob patterns plus a recursive
// prefix form: a pattern ending in "/**" matches requestPath and
// everything beneath it.
func (r *ACLRule) matchesPath(requestPath string) bool {
	if strings.HasSuffix(r.PathPattern, "/**") {
		prefix := strings.TrimSuffix(r.PathPattern, "/**")
		return requestPath == prefix || strings.HasPrefix(requestPath, prefix+"/")
	}
	matched, err := path.Match(r.PathPattern, requestPath)
	return err == nil && matched
}

// ParseACLRules parses a namespace's configured access entries, each
// of the form "<subject>:<permissions>:<path_pattern>", into ACLRules
// in order, per §4.6. subject is one of public, any, machine:<uuid>,
// or group:<name>; permissions is a comma-separated list drawn from
// read, write, delete, admin.
func ParseACLRules(entries []string) ([]ACLRule, error) {
	rules := make([]ACLRule, 0, len(entries))
	for _, entry := range entries {
		n := 3
		if strings.HasPrefix(entry, "machine:") || strings.HasPrefix(entry, "group:") {
			n = 4
		}
		parts := strings.SplitN(entry, ":", n)
		if len(parts) != n {
			return nil, fmt.Errorf("distributed: malformed access rule %q (want subject:permissions:path)", entry)
		}
		if n == 4 {
			parts = []string{parts[0] + ":" + parts[1], parts[2], parts[3]}
		}
		subject, err := parseSubject(parts[0])
		if err != nil {
			return nil, fmt.Errorf("distributed: access rule %q: %w", entry, err)
		}
		perms, err := parsePermissions(parts[1])
		if err != nil {
			return nil, fmt.Errorf("distributed: access rule %q: %w", entry, err)
		}
		rules = append(rules, ACLRule{Subject: subject, Permissions: perms, PathPattern: parts[2]})
	}
	return rules, nil
}

func parseSubject(s string) (Subject, error) {
	switch {
	case s == "public":
		return Subject{Kind: SubjectPublic}, nil
	case s == "any":
		return Subject{Kind: SubjectAnyAuthenticated}, nil
	case strings.HasPrefix(s, "machine:"):
		id, err := uuid.Parse(strings.TrimPrefix(s, "machine:"))
		if err != nil {
			return Subject{}, fmt.Errorf("invalid machine id: %w", err)
		}
		return MachineSubject(id), nil
	case strings.HasPrefix(s, "group:"):
		return MachineGroupSubject(strings.TrimPrefix(s, "group:")), nil
	default:
		return Subject{}, fmt.Errorf("unknown subject %q", s)
	}
}

func parsePermissions(s string) ([]Permission, error) {
	var perms []Permission
	for _, name := range strings.Split(s, ",") {
		switch name {
		case "read":
			perms = append(perms, PermRead)
		case "write":
			perms = append(perms, PermWrite)
		case "delete":
			perms = append(perms, PermDelete)
		case "admin":
			perms = append(perms, PermAdmin)
		default:
			return nil, fmt.Errorf("unknown permission %q", name)
		}
	}
	return perms, nil
}

// EvaluateACL walks rules in order and returns whether requester may
// exercise perm on requestPath, per §4.6: "rules are matched in
// order; first match wins; absence of any matching rule denies."
func EvaluateACL(rules []ACLRule, requester Subject, groups map[string][]uuid.UUID, perm Permission, requestPath string) bool {
	for i := range rules {
		rule := &rules[i]
		if !rule.matchesPath(requestPath) || !rule.matchesSubject(requester, groups) {
			continue
		}
		return rule.grants(perm)
	}
	return false
}
