package dtm

// Encoders for the few RV32I/Zicsr instructions placed in the program buffer.

const (
	opLoad   = 0x03
	opStore  = 0x23
	opOpImm  = 0x13
	opSystem = 0x73
	opFence  = 0x0F

	funct3Word = 2
)

// CSR instruction kinds, the funct3 of csrrw/csrrs/csrrc.
const (
	CSRWrite = 1
	CSRSet   = 2
	CSRClear = 3
)

const (
	InsnEbreak = 0x00100073
	InsnFenceI = 0x0000100F
)

func itype(op, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)&0xFFF<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

// LW encodes lw rd, imm(rs1).
func LW(rd, rs1 uint32, imm int32) uint32 {
	return itype(opLoad, funct3Word, rd, rs1, imm)
}

// SW encodes sw rs2, imm(rs1).
func SW(rs2, rs1 uint32, imm int32) uint32 {
	u := uint32(imm) & 0xFFF
	return u>>5<<25 | rs2<<20 | rs1<<15 | funct3Word<<12 | u&0x1F<<7 | opStore
}

// ADDI encodes addi rd, rs1, imm.
func ADDI(rd, rs1 uint32, imm int32) uint32 {
	return itype(opOpImm, 0, rd, rs1, imm)
}

// CSRRx encodes csrrw, csrrs or csrrc rd, csr, rs1 according to kind.
func CSRRx(kind, rd, csr, rs1 uint32) uint32 {
	return csr<<20 | rs1<<15 | kind<<12 | rd<<7 | opSystem
}
