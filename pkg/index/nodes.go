package index

import (
	"database/sql"
	"fmt"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
)

// FindActiveNodes returns every active node whose daemon_host equals host.
// Availability (marker check) is the caller's job (§3); this is purely the
// Index-level filter of "is this daemon even supposed to look at this node".
func (idx *Index) FindActiveNodes(host string) ([]alptypes.Node, error) {
	rows, err := idx.db.Query(`
		SELECT name, group_fk, active, io_class, storage_type, root, username,
		       address, auto_import, auto_verify, avail_gb, min_avail_gb,
		       max_total_gb, io_config
		FROM storage_node
		WHERE active = 1 AND host = ?
		ORDER BY name
	`, host)
	if err != nil {
		return nil, fmt.Errorf("index: FindActiveNodes: %w", err)
	}
	defer rows.Close()

	var nodes []alptypes.Node
	for rows.Next() {
		var n alptypes.Node
		var storageType string
		var ioConfig sql.NullString

		if err := rows.Scan(
			&n.Name, &n.GroupName, &n.Active, &n.IOClass, &storageType, &n.Root,
			&n.Username, &n.Address, &n.AutoImport, &n.AutoVerify,
			&n.CapacityGB, &n.MinAvailGB, &n.MaxTotalGB, &ioConfig,
		); err != nil {
			return nil, fmt.Errorf("index: FindActiveNodes scan: %w", err)
		}

		n.DaemonHost = host
		n.StorageType = alptypes.StorageType(storageType)
		n.IOConfigJSON = ioConfig.String

		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}

// FindNodesInGroup returns all nodes (active or not) belonging to group.
func (idx *Index) FindNodesInGroup(group string) ([]alptypes.Node, error) {
	rows, err := idx.db.Query(`
		SELECT name, group_fk, active, io_class, storage_type, root, username,
		       address, auto_import, auto_verify, avail_gb, min_avail_gb,
		       max_total_gb, host, io_config
		FROM storage_node
		WHERE group_fk = ?
		ORDER BY name
	`, group)
	if err != nil {
		return nil, fmt.Errorf("index: FindNodesInGroup: %w", err)
	}
	defer rows.Close()

	var nodes []alptypes.Node
	for rows.Next() {
		var n alptypes.Node
		var storageType string
		var ioConfig sql.NullString

		if err := rows.Scan(
			&n.Name, &n.GroupName, &n.Active, &n.IOClass, &storageType, &n.Root,
			&n.Username, &n.Address, &n.AutoImport, &n.AutoVerify,
			&n.CapacityGB, &n.MinAvailGB, &n.MaxTotalGB, &n.DaemonHost, &ioConfig,
		); err != nil {
			return nil, fmt.Errorf("index: FindNodesInGroup scan: %w", err)
		}

		n.StorageType = alptypes.StorageType(storageType)
		n.IOConfigJSON = ioConfig.String

		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}

// GroupNodeNames returns the names of every node in group, available or
// not - the Index-level half of "a group is available to a daemon iff at
// least one of its member nodes is available" (§3); which of them are
// available the daemon decides itself via the marker check.
func (idx *Index) GroupNodeNames(group string) ([]string, error) {
	rows, err := idx.db.Query(`SELECT name FROM storage_node WHERE group_fk = ?`, group)
	if err != nil {
		return nil, fmt.Errorf("index: GroupNodeNames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ActiveGroups returns every storage group row (name, I/O class, notes),
// ordered by name.
func (idx *Index) ActiveGroups() ([]alptypes.Group, error) {
	rows, err := idx.db.Query(`SELECT name, io_class, notes FROM storage_group ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("index: ActiveGroups: %w", err)
	}
	defer rows.Close()

	var groups []alptypes.Group
	for rows.Next() {
		var g alptypes.Group
		if err := rows.Scan(&g.Name, &g.IOClass, &g.Notes); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// NodeByName resolves a single node's row, used by the transfer engine to
// learn a pull source's address/username without needing the full
// active-node listing for the source's host.
func (idx *Index) NodeByName(name string) (alptypes.Node, error) {
	var n alptypes.Node
	var storageType string
	var ioConfig sql.NullString

	row := idx.db.QueryRow(`
		SELECT name, group_fk, active, io_class, storage_type, root, username,
		       address, auto_import, auto_verify, avail_gb, min_avail_gb,
		       max_total_gb, host, io_config
		FROM storage_node
		WHERE name = ?
	`, name)

	if err := row.Scan(
		&n.Name, &n.GroupName, &n.Active, &n.IOClass, &storageType, &n.Root,
		&n.Username, &n.Address, &n.AutoImport, &n.AutoVerify,
		&n.CapacityGB, &n.MinAvailGB, &n.MaxTotalGB, &n.DaemonHost, &ioConfig,
	); err != nil {
		return alptypes.Node{}, fmt.Errorf("index: NodeByName %q: %w", name, err)
	}

	n.StorageType = alptypes.StorageType(storageType)
	n.IOConfigJSON = ioConfig.String

	return n, nil
}

// SetNodeActive flips a node's active flag - the Index-side effect of the
// "node activate"/"node deactivate" CLI commands (§6).
func (idx *Index) SetNodeActive(name string, active bool) error {
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(`UPDATE storage_node SET active = ? WHERE name = ?`, active, name)
		return err
	})
}
