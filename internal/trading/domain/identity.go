package domain

import "time"

// Identity 存储层分配的代理键与审计时间，通过嵌入附加到实体上。
// 代理键只在第一次保存成功时分配一次，之后不再改变。
type Identity struct {
	id         uint64
	recordedAt time.Time
	updatedAt  time.Time
}

// RestoreIdentity 从存储层重建身份信息
func RestoreIdentity(id uint64, recordedAt, updatedAt time.Time) Identity {
	return Identity{id: id, recordedAt: recordedAt, updatedAt: updatedAt}
}

func (i *Identity) ID() uint64            { return i.id }
func (i *Identity) Assigned() bool        { return i.id != 0 }
func (i *Identity) RecordedAt() time.Time { return i.recordedAt }
func (i *Identity) UpdatedAt() time.Time  { return i.updatedAt }

// AssignID 分配代理键，重复分配或分配 0 都会失败
func (i *Identity) AssignID(id uint64, at time.Time) error {
	if i.id != 0 {
		return ErrIDAlreadyAssigned
	}
	if id == 0 {
		return ErrRequired
	}
	i.id = id
	i.recordedAt = at
	i.updatedAt = at
	return nil
}

// Touch 更新审计时间
func (i *Identity) Touch(at time.Time) {
	i.updatedAt = at
}
