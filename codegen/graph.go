package codegen

import (
	"encoding/binary"

	covenant "github.com/Cyronius/covenant"
)

// dataBase is the linear-memory address of the embedded data segment.
// Everything below it is scratch space for the host.
const dataBase = 1024

// nodeEntrySize is the byte size of one node-table entry:
// [id_ptr, id_len, content_ptr, content_len, first_out, out_count,
// first_in, in_count], all u32.
const nodeEntrySize = 32

// relEntrySize is the byte size of one relation entry: [str_ptr, str_len].
const relEntrySize = 8

// graphModel is the data graph extracted from a program: every snippet is
// a node; declared relations plus their synthesized inverses are the
// edges.
type graphModel struct {
	nodes []graphNode
	out   [][]string // per-node ordered relation encodings
	in    [][]string
}

type graphNode struct {
	id      string
	content string
}

// buildGraph indexes all snippets (not just data) so relations can
// resolve to any node. For every declared edge (a -> b, T) it adds the
// declared entry to a's outgoing and b's incoming lists, and a
// synthesized inverse (b -> a, inverse(T)) to b's outgoing and a's
// incoming lists. Inverses are never double-counted with the originals.
func buildGraph(program *covenant.Program) *graphModel {
	g := &graphModel{}
	index := make(map[string]int)

	for _, snippet := range program.Snippets {
		if _, seen := index[snippet.ID]; seen {
			continue
		}

		index[snippet.ID] = len(g.nodes)
		g.nodes = append(g.nodes, graphNode{id: snippet.ID, content: snippet.Content()})
	}

	g.out = make([][]string, len(g.nodes))
	g.in = make([][]string, len(g.nodes))

	for _, snippet := range program.Snippets {
		src, ok := index[snippet.ID]
		if !ok {
			continue
		}

		for _, rel := range snippet.Relations() {
			dst, ok := index[rel.To]
			if !ok {
				// Dangling relation target: no edge to materialize.
				continue
			}

			inverse := covenant.InverseRelation(rel.Type)

			g.out[src] = append(g.out[src], rel.Type+"->"+g.nodes[dst].id)
			g.in[dst] = append(g.in[dst], rel.Type+"->"+g.nodes[src].id)
			g.out[dst] = append(g.out[dst], inverse+"->"+g.nodes[src].id)
			g.in[src] = append(g.in[src], inverse+"->"+g.nodes[dst].id)
		}
	}

	return g
}

// layout owns the data segment: the node table, the two relation arrays,
// and the interned string region that grows behind them.
type layout struct {
	blob      []byte
	strings   map[string]uint32
	nodeAddr  uint32
	outAddr   uint32
	inAddr    uint32
	nodeCount int
}

// newLayout reserves the graph tables, interns the graph strings, and
// fills in every table entry. Function compilation may intern further
// strings afterwards; the tables are not moved by later appends.
func newLayout(g *graphModel) *layout {
	totalOut := 0
	for _, rels := range g.out {
		totalOut += len(rels)
	}

	totalIn := 0
	for _, rels := range g.in {
		totalIn += len(rels)
	}

	l := &layout{
		strings:   make(map[string]uint32),
		nodeCount: len(g.nodes),
	}

	l.nodeAddr = dataBase
	l.outAddr = l.nodeAddr + uint32(len(g.nodes)*nodeEntrySize)
	l.inAddr = l.outAddr + uint32(totalOut*relEntrySize)
	l.blob = make([]byte, int(l.inAddr-dataBase)+totalIn*relEntrySize)

	outCursor := 0
	inCursor := 0

	for i, node := range g.nodes {
		entry := l.nodeSlice(i)

		idAddr := l.intern(node.id)
		binary.LittleEndian.PutUint32(entry[0:], idAddr)
		binary.LittleEndian.PutUint32(entry[4:], uint32(len(node.id)))

		contentAddr := uint32(0)
		if node.content != "" {
			contentAddr = l.intern(node.content)
		}

		binary.LittleEndian.PutUint32(entry[8:], contentAddr)
		binary.LittleEndian.PutUint32(entry[12:], uint32(len(node.content)))

		binary.LittleEndian.PutUint32(entry[16:], uint32(outCursor))
		binary.LittleEndian.PutUint32(entry[20:], uint32(len(g.out[i])))
		binary.LittleEndian.PutUint32(entry[24:], uint32(inCursor))
		binary.LittleEndian.PutUint32(entry[28:], uint32(len(g.in[i])))

		for _, rel := range g.out[i] {
			addr := l.intern(rel)
			off := int(l.outAddr-dataBase) + outCursor*relEntrySize
			binary.LittleEndian.PutUint32(l.blob[off:], addr)
			binary.LittleEndian.PutUint32(l.blob[off+4:], uint32(len(rel)))
			outCursor++
		}

		for _, rel := range g.in[i] {
			addr := l.intern(rel)
			off := int(l.inAddr-dataBase) + inCursor*relEntrySize
			binary.LittleEndian.PutUint32(l.blob[off:], addr)
			binary.LittleEndian.PutUint32(l.blob[off+4:], uint32(len(rel)))
			inCursor++
		}
	}

	return l
}

func (l *layout) nodeSlice(i int) []byte {
	off := int(l.nodeAddr-dataBase) + i*nodeEntrySize

	return l.blob[off : off+nodeEntrySize]
}

// intern appends a string to the blob (deduplicated) and returns its
// absolute memory address.
func (l *layout) intern(s string) uint32 {
	if addr, ok := l.strings[s]; ok {
		return addr
	}

	addr := dataBase + uint32(len(l.blob))
	l.blob = append(l.blob, s...)
	l.strings[s] = addr

	return addr
}

// fatPointer packs an interned string into the i64 fat-pointer encoding:
// offset in the high 32 bits, length in the low 32.
func (l *layout) fatPointer(s string) int64 {
	addr := l.intern(s)

	return int64(addr)<<32 | int64(uint32(len(s)))
}

// ---------------------------------------------------------------------------
// GAI function bodies
// ---------------------------------------------------------------------------

// emitNodeBoundsCheck emits `if (i < 0 || i >= count) { <fail>; return }`
// for local 0.
func emitNodeBoundsCheck(c *code, count int, fail func(*code)) {
	c.localGet(0)
	c.i32Const(0)
	c.op(opI32LtS)
	c.localGet(0)
	c.i32Const(int32(count))
	c.op(opI32GeS)
	c.op(opI32Or)
	c.ifBlock(blockVoid)
	fail(c)
	c.op(opReturn)
	c.op(opEnd)
}

// emitNodeAddr leaves the node-table address of node local 0 on the stack
// and in the given local.
func emitNodeAddr(c *code, nodeAddr uint32, local uint32) {
	c.localGet(0)
	c.i32Const(nodeEntrySize)
	c.op(opI32Mul)
	c.i32Const(int32(nodeAddr))
	c.op(opI32Add)
	c.localTee(local)
}

// emitFatLoad loads the [ptr, len] pair at the address in local and packs
// it into an i64 fat pointer.
func emitFatLoad(c *code, local uint32, offset uint32) {
	c.localGet(local)
	c.load32(offset)
	c.op(opI64ExtendI32U)
	c.i64Const(32)
	c.op(opI64Shl)
	c.localGet(local)
	c.load32(offset + 4)
	c.op(opI64ExtendI32U)
	c.op(opI64Or)
}

// gaiNodeCount builds cov_node_count: () -> i32.
func gaiNodeCount(l *layout) function {
	c := &code{}
	c.i32Const(int32(l.nodeCount))

	return function{
		name: "cov_node_count",
		typ:  funcType{results: []byte{valI32}},
		body: c.bytes(),
	}
}

// gaiGetFat builds cov_get_node_id / cov_get_node_content: (i32) -> i64.
func gaiGetFat(l *layout, name string, fieldOffset uint32) function {
	c := &code{}

	emitNodeBoundsCheck(c, l.nodeCount, func(c *code) { c.i64Const(-1) })
	emitNodeAddr(c, l.nodeAddr, 1)
	c.op(opDrop)
	emitFatLoad(c, 1, fieldOffset)

	return function{
		name:   name,
		typ:    funcType{params: []byte{valI32}, results: []byte{valI64}},
		locals: []byte{valI32},
		body:   c.bytes(),
	}
}

// gaiCount builds cov_get_outgoing_count / cov_get_incoming_count:
// (i32) -> i32.
func gaiCount(l *layout, name string, fieldOffset uint32) function {
	c := &code{}

	emitNodeBoundsCheck(c, l.nodeCount, func(c *code) { c.i32Const(0) })
	emitNodeAddr(c, l.nodeAddr, 1)
	c.load32(fieldOffset)

	return function{
		name:   name,
		typ:    funcType{params: []byte{valI32}, results: []byte{valI32}},
		locals: []byte{valI32},
		body:   c.bytes(),
	}
}

// gaiGetRel builds cov_get_outgoing_rel: (i32, i32) -> i64. Returns -1
// when either index is out of bounds.
func gaiGetRel(l *layout, name string, relAddr uint32, firstOffset, countOffset uint32) function {
	c := &code{}

	emitNodeBoundsCheck(c, l.nodeCount, func(c *code) { c.i64Const(-1) })
	emitNodeAddr(c, l.nodeAddr, 2)
	c.op(opDrop)

	// k < 0 || k >= count -> -1
	c.localGet(1)
	c.i32Const(0)
	c.op(opI32LtS)
	c.localGet(1)
	c.localGet(2)
	c.load32(countOffset)
	c.op(opI32GeS)
	c.op(opI32Or)
	c.ifBlock(blockVoid)
	c.i64Const(-1)
	c.op(opReturn)
	c.op(opEnd)

	// entry = relAddr + (first + k) * 8
	c.localGet(2)
	c.load32(firstOffset)
	c.localGet(1)
	c.op(opI32Add)
	c.i32Const(relEntrySize)
	c.op(opI32Mul)
	c.i32Const(int32(relAddr))
	c.op(opI32Add)
	c.localSet(2)
	emitFatLoad(c, 2, 0)

	return function{
		name:   name,
		typ:    funcType{params: []byte{valI32, valI32}, results: []byte{valI64}},
		locals: []byte{valI32},
		body:   c.bytes(),
	}
}

// gaiFindByID builds cov_find_by_id: (i32, i32) -> i32. Linear scan over
// the node table comparing ID bytes; -1 when absent.
func gaiFindByID(l *layout, strEqIndex uint32) function {
	c := &code{}

	// locals: i (2), addr (3)
	c.loop(blockVoid)

	c.localGet(2)
	c.i32Const(int32(l.nodeCount))
	c.op(opI32GeS)
	c.ifBlock(blockVoid)
	c.i32Const(-1)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(2)
	c.i32Const(nodeEntrySize)
	c.op(opI32Mul)
	c.i32Const(int32(l.nodeAddr))
	c.op(opI32Add)
	c.localTee(3)
	c.load32(0)
	c.localGet(3)
	c.load32(4)
	c.localGet(0)
	c.localGet(1)
	c.call(strEqIndex)
	c.ifBlock(blockVoid)
	c.localGet(2)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(2)
	c.i32Const(1)
	c.op(opI32Add)
	c.localSet(2)
	c.br(0)

	c.op(opEnd) // loop
	c.i32Const(-1)

	return function{
		name:   "cov_find_by_id",
		typ:    funcType{params: []byte{valI32, valI32}, results: []byte{valI32}},
		locals: []byte{valI32, valI32},
		body:   c.bytes(),
	}
}

// gaiContentContains builds cov_content_contains: (i32, i32, i32) -> i32.
// Naive byte-for-byte substring search over the node's content.
func gaiContentContains(l *layout, strEqIndex uint32) function {
	c := &code{}

	// locals: addr (3), cptr (4), clen (5), j (6)
	emitNodeBoundsCheck(c, l.nodeCount, func(c *code) { c.i32Const(0) })

	emitNodeAddr(c, l.nodeAddr, 3)
	c.load32(8)
	c.localSet(4)
	c.localGet(3)
	c.load32(12)
	c.localSet(5)

	// Empty needle always matches.
	c.localGet(2)
	c.op(opI32Eqz)
	c.ifBlock(blockVoid)
	c.i32Const(1)
	c.op(opReturn)
	c.op(opEnd)

	// Needle longer than content never matches.
	c.localGet(2)
	c.localGet(5)
	c.op(opI32GtS)
	c.ifBlock(blockVoid)
	c.i32Const(0)
	c.op(opReturn)
	c.op(opEnd)

	c.loop(blockVoid)

	// j > clen - len -> no match
	c.localGet(6)
	c.localGet(5)
	c.localGet(2)
	c.op(opI32Sub)
	c.op(opI32GtS)
	c.ifBlock(blockVoid)
	c.i32Const(0)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(4)
	c.localGet(6)
	c.op(opI32Add)
	c.localGet(2)
	c.localGet(1)
	c.localGet(2)
	c.call(strEqIndex)
	c.ifBlock(blockVoid)
	c.i32Const(1)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(6)
	c.i32Const(1)
	c.op(opI32Add)
	c.localSet(6)
	c.br(0)

	c.op(opEnd)
	c.i32Const(0)

	return function{
		name:   "cov_content_contains",
		typ:    funcType{params: []byte{valI32, valI32, valI32}, results: []byte{valI32}},
		locals: []byte{valI32, valI32, valI32, valI32},
		body:   c.bytes(),
	}
}

// strEqHelper builds the internal byte-equality helper:
// (aPtr, aLen, bPtr, bLen) -> i32.
func strEqHelper() function {
	c := &code{}

	// local: j (4)
	c.localGet(1)
	c.localGet(3)
	c.op(opI32Ne)
	c.ifBlock(blockVoid)
	c.i32Const(0)
	c.op(opReturn)
	c.op(opEnd)

	c.loop(blockVoid)

	c.localGet(4)
	c.localGet(1)
	c.op(opI32GeS)
	c.ifBlock(blockVoid)
	c.i32Const(1)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(0)
	c.localGet(4)
	c.op(opI32Add)
	c.load8u(0)
	c.localGet(2)
	c.localGet(4)
	c.op(opI32Add)
	c.load8u(0)
	c.op(opI32Ne)
	c.ifBlock(blockVoid)
	c.i32Const(0)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(4)
	c.i32Const(1)
	c.op(opI32Add)
	c.localSet(4)
	c.br(0)

	c.op(opEnd)
	c.i32Const(1)

	return function{
		typ:    funcType{params: []byte{valI32, valI32, valI32, valI32}, results: []byte{valI32}},
		locals: []byte{valI32},
		body:   c.bytes(),
	}
}

// strCmpHelper builds the internal lexicographic-compare helper:
// (aPtr, aLen, bPtr, bLen) -> i32 returning -1, 0, or 1.
func strCmpHelper() function {
	c := &code{}

	// locals: j (4), ca (5), cb (6)
	c.loop(blockVoid)

	c.localGet(4)
	c.localGet(1)
	c.op(opI32GeS)
	c.localGet(4)
	c.localGet(3)
	c.op(opI32GeS)
	c.op(opI32And)
	c.ifBlock(blockVoid)
	c.i32Const(0)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(4)
	c.localGet(1)
	c.op(opI32GeS)
	c.ifBlock(blockVoid)
	c.i32Const(-1)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(4)
	c.localGet(3)
	c.op(opI32GeS)
	c.ifBlock(blockVoid)
	c.i32Const(1)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(0)
	c.localGet(4)
	c.op(opI32Add)
	c.load8u(0)
	c.localSet(5)
	c.localGet(2)
	c.localGet(4)
	c.op(opI32Add)
	c.load8u(0)
	c.localSet(6)

	c.localGet(5)
	c.localGet(6)
	c.op(opI32LtU)
	c.ifBlock(blockVoid)
	c.i32Const(-1)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(5)
	c.localGet(6)
	c.op(opI32GtU)
	c.ifBlock(blockVoid)
	c.i32Const(1)
	c.op(opReturn)
	c.op(opEnd)

	c.localGet(4)
	c.i32Const(1)
	c.op(opI32Add)
	c.localSet(4)
	c.br(0)

	c.op(opEnd)
	c.i32Const(0)

	return function{
		typ:    funcType{params: []byte{valI32, valI32, valI32, valI32}, results: []byte{valI32}},
		locals: []byte{valI32, valI32, valI32},
		body:   c.bytes(),
	}
}
