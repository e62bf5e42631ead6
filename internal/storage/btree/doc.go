// Package btree implements the copy-on-write B+ tree used as a
// transactional component in the ObaDB storage core.
//
// # Overview
//
// A BPlusTree stores sorted byte-slice keys with byte-slice values in
// nodes kept in a storage.BlockStore. It joins a tx.Coordinator as a
// tx.Component:
//
//   - Readers see the root that was published when they began
//   - A writer copies every node it changes to a fresh block
//   - Prepare writes the new nodes and returns the candidate root
//   - Commit publishes the root; Abort drops the copies
//
// Committed nodes are never modified, so readers need no locks. Blocks
// superseded by a commit are released once no transaction can reach them.
//
// # Usage
//
//	tree, err := btree.NewBPlusTree("data", store, btree.DefaultParams())
//	if err != nil {
//	    return err
//	}
//	if err := coord.Add(tree); err != nil {
//	    return err
//	}
//
//	t, _ := coord.Begin(tx.ModeWrite)
//	defer coord.End(t)
//	if _, err := tree.Insert(t, []byte("k"), []byte("v")); err != nil {
//	    return err
//	}
//	return coord.Commit(t)
//
// # Node Layout
//
// Internal nodes hold separator keys and child block ids; every key in
// Children[i+1] is >= Keys[i]. Leaves hold keys and values. Leaves carry no
// sibling links, since a copied leaf would force its neighbours to be
// copied too; iterators keep the path from the root instead.
//
// # Serialization
//
//	data, err := node.Serialize()
//	node, err := btree.DeserializeNode(data)
package btree
